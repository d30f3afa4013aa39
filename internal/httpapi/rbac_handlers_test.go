package httpapi

import (
	"context"
	"net/http"
	"testing"

	"learnhub.org/internal/auth"
)

func roleID(t *testing.T, env *testEnv, name string) string {
	t.Helper()
	r, err := env.store.FindRoleByName(context.Background(), name)
	if err != nil {
		t.Fatalf("find role %s: %v", name, err)
	}
	return r.ID
}

func TestListRolesAndPermissions(t *testing.T) {
	env := newTestEnv(t)
	admin := bearerHeader(env.login(testAdminEmail, testAdminPassword))

	body := expectStatus(t, env.get("/v1/roles", nil, admin), http.StatusOK)
	roles, _ := body["roles"].([]any)
	if len(roles) != 3 {
		t.Fatalf("expected 3 system roles, got %d", len(roles))
	}

	body = expectStatus(t, env.get("/v1/permissions", nil, admin), http.StatusOK)
	perms, _ := body["permissions"].([]any)
	if len(perms) != len(auth.BuiltinPermissions) {
		t.Fatalf("expected %d permissions, got %d", len(auth.BuiltinPermissions), len(perms))
	}

	instructor := env.createUser("teach@example.com", "teach1234", auth.RoleInstructor)
	body = expectStatus(t, env.get("/v1/roles", nil, bearerHeader(env.tokenFor(instructor))), http.StatusForbidden)
	if body["message"] != "insufficient permission" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRoleLifecycle(t *testing.T) {
	env := newTestEnv(t)
	admin := bearerHeader(env.login(testAdminEmail, testAdminPassword))

	body := expectStatus(t, env.post("/v1/roles", map[string]any{"name": "Reviewer", "display_name": "Reviewer"}, admin), http.StatusCreated)
	role, _ := body["role"].(map[string]any)
	id, _ := role["id"].(string)
	if role["name"] != "reviewer" || id == "" {
		t.Fatalf("unexpected role: %v", role)
	}

	expectStatus(t, env.post("/v1/roles", map[string]any{"name": "reviewer"}, admin), http.StatusConflict)
	expectStatus(t, env.post("/v1/roles", map[string]any{"name": "!"}, admin), http.StatusBadRequest)

	body = expectStatus(t, env.do(http.MethodPatch, "/v1/roles/"+id, map[string]any{"display_name": "Content reviewer"}, admin), http.StatusOK)
	role, _ = body["role"].(map[string]any)
	if role["display_name"] != "Content reviewer" {
		t.Fatalf("display name not updated: %v", role)
	}

	body = expectStatus(t, env.do(http.MethodPut, "/v1/roles/"+id+"/permissions", map[string]any{
		"permissions": []string{"content.edit", "report.view", "content.edit"},
	}, admin), http.StatusOK)
	keys, _ := body["permissions"].([]any)
	if len(keys) != 2 || keys[0] != "content.edit" || keys[1] != "report.view" {
		t.Fatalf("unexpected grants: %v", keys)
	}

	expectStatus(t, env.do(http.MethodPut, "/v1/roles/"+id+"/permissions", map[string]any{
		"permissions": []string{"no.such"},
	}, admin), http.StatusNotFound)

	expectStatus(t, env.do(http.MethodDelete, "/v1/roles/"+id, nil, admin), http.StatusOK)
	expectStatus(t, env.do(http.MethodDelete, "/v1/roles/"+id, nil, admin), http.StatusNotFound)
}

func TestSystemRolesAreProtected(t *testing.T) {
	env := newTestEnv(t)
	admin := bearerHeader(env.login(testAdminEmail, testAdminPassword))
	learnerID := roleID(t, env, auth.RoleLearner)

	expectStatus(t, env.do(http.MethodDelete, "/v1/roles/"+learnerID, nil, admin), http.StatusConflict)
	expectStatus(t, env.do(http.MethodPatch, "/v1/roles/"+learnerID, map[string]any{"name": "student"}, admin), http.StatusConflict)
	expectStatus(t, env.do(http.MethodPatch, "/v1/roles/"+learnerID, map[string]any{"display_name": "Student"}, admin), http.StatusOK)
}

func TestDeleteRoleInUse(t *testing.T) {
	env := newTestEnv(t)
	admin := bearerHeader(env.login(testAdminEmail, testAdminPassword))

	body := expectStatus(t, env.post("/v1/roles", map[string]any{"name": "mentor"}, admin), http.StatusCreated)
	id := body["role"].(map[string]any)["id"].(string)
	env.createUser("mentor@example.com", "mentor123", "mentor")

	body = expectStatus(t, env.do(http.MethodDelete, "/v1/roles/"+id, nil, admin), http.StatusConflict)
	if body["success"] != false {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRoleMutationsRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	instructor := env.createUser("teach@example.com", "teach1234", auth.RoleInstructor)
	headers := bearerHeader(env.tokenFor(instructor))

	expectStatus(t, env.post("/v1/roles", map[string]any{"name": "mentor"}, headers), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodDelete, "/v1/roles/"+roleID(t, env, auth.RoleLearner), nil, headers), http.StatusForbidden)
	expectStatus(t, env.post("/v1/roles", map[string]any{"name": "mentor"}, nil), http.StatusUnauthorized)
}

func TestGrantTakesEffectForRole(t *testing.T) {
	env := newTestEnv(t)
	admin := bearerHeader(env.login(testAdminEmail, testAdminPassword))
	instructor := bearerHeader(env.tokenFor(env.createUser("teach@example.com", "teach1234", auth.RoleInstructor)))

	expectStatus(t, env.get("/v1/permissions", nil, instructor), http.StatusForbidden)

	expectStatus(t, env.do(http.MethodPut, "/v1/roles/"+roleID(t, env, auth.RoleInstructor)+"/permissions", map[string]any{
		"permissions": []string{"content.upload", "role.manage"},
	}, admin), http.StatusOK)

	expectStatus(t, env.get("/v1/permissions", nil, instructor), http.StatusOK)
}

func TestCreateUserAndAssignRole(t *testing.T) {
	env := newTestEnv(t)
	admin := bearerHeader(env.login(testAdminEmail, testAdminPassword))

	body := expectStatus(t, env.post("/v1/users", map[string]any{
		"email": "New.Learner@Example.com", "password": "learner123", "name": "New Learner", "role": auth.RoleLearner,
	}, admin), http.StatusCreated)
	user, _ := body["user"].(map[string]any)
	if user["email"] != "new.learner@example.com" || user["role"] != auth.RoleLearner {
		t.Fatalf("unexpected user: %v", user)
	}
	id, _ := user["id"].(string)

	expectStatus(t, env.post("/v1/users", map[string]any{
		"email": "new.learner@example.com", "password": "learner123", "role": auth.RoleLearner,
	}, admin), http.StatusConflict)
	expectStatus(t, env.post("/v1/users", map[string]any{
		"email": "other@example.com", "password": "short", "role": auth.RoleLearner,
	}, admin), http.StatusUnprocessableEntity)
	expectStatus(t, env.post("/v1/users", map[string]any{
		"email": "other@example.com", "password": "learner123", "role": "wizard",
	}, admin), http.StatusNotFound)

	body = expectStatus(t, env.do(http.MethodPut, "/v1/users/"+id+"/role", map[string]any{"role": auth.RoleInstructor}, admin), http.StatusOK)
	user, _ = body["user"].(map[string]any)
	if user["role"] != auth.RoleInstructor {
		t.Fatalf("role not reassigned: %v", user)
	}
	expectStatus(t, env.do(http.MethodPut, "/v1/users/missing/role", map[string]any{"role": auth.RoleInstructor}, admin), http.StatusNotFound)

	learner := bearerHeader(env.tokenFor(env.createUser("l2@example.com", "learner123", auth.RoleLearner)))
	expectStatus(t, env.post("/v1/users", map[string]any{
		"email": "x@example.com", "password": "learner123", "role": auth.RoleLearner,
	}, learner), http.StatusForbidden)
}
