package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"learnhub.org/internal/audit"
	"learnhub.org/internal/auth"
)

type createRoleRequest struct {
	Name        string `json:"name" validate:"required"`
	DisplayName string `json:"display_name"`
}

type updateRoleRequest struct {
	Name        *string `json:"name,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"required"`
}

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name"`
	Role     string `json:"role" validate:"required"`
}

type assignRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.rbac.ListRoles(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeSuccess(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.CreateRole(r.Context(), req.Name, req.DisplayName)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.created", map[string]any{"role_id": role.ID, "name": role.Name})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeSuccess(w, http.StatusCreated, map[string]any{"role": role})
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	roleID := mux.Vars(r)["id"]
	role, err := a.rbac.UpdateRole(r.Context(), roleID, auth.RoleUpdate{Name: req.Name, DisplayName: req.DisplayName})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.updated", map[string]any{"role_id": role.ID, "name": role.Name})
	writeSuccess(w, http.StatusOK, map[string]any{"role": role})
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID := mux.Vars(r)["id"]
	if err := a.rbac.DeleteRole(r.Context(), roleID); err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.deleted", map[string]any{"role_id": roleID})
	writeSuccess(w, http.StatusOK, nil)
}

func (a *API) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req setRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	roleID := mux.Vars(r)["id"]
	if err := a.rbac.SetRolePermissions(r.Context(), roleID, req.Permissions); err != nil {
		a.handleError(w, r, err)
		return
	}
	perms, err := a.rbac.RolePermissions(r.Context(), roleID)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.permissions_updated", map[string]any{
		"role_id": roleID,
		"count":   len(perms),
	})
	writeSuccess(w, http.StatusOK, map[string]any{"permissions": permissionKeys(perms)})
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.rbac.ListPermissions(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeSuccess(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.rbac.CreateUser(r.Context(), auth.NewUser{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     req.Role,
	})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.user.created", map[string]any{"user_id": user.ID, "role": user.RoleName})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeSuccess(w, http.StatusCreated, map[string]any{"user": user.Summary()})
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := mux.Vars(r)["id"]
	user, err := a.rbac.AssignRole(r.Context(), userID, req.Role)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.user.role_assigned", map[string]any{"user_id": user.ID, "role": user.RoleName})
	writeSuccess(w, http.StatusOK, map[string]any{"user": user.Summary()})
}

func permissionKeys(perms []auth.Permission) []string {
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key)
	}
	return keys
}
