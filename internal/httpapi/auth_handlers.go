package httpapi

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"learnhub.org/internal/audit"
	"learnhub.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type verifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required"`
}

type resetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

const forgotPasswordMessage = "If the email is registered, a reset code has been sent."

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"email": req.Email})
		}
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login.succeeded", map[string]any{
		"user_id": res.User.ID,
		"role":    res.User.Role,
	})
	writeSuccess(w, http.StatusOK, map[string]any{
		"token":      res.Token,
		"token_type": "Bearer",
		"expires_at": res.ExpiresAt,
		"user":       res.User,
	})
}

// handleForgotPassword answers identically for registered and unknown emails.
func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password_reset.requested", nil)
	writeSuccess(w, http.StatusOK, map[string]any{
		"accepted": true,
		"message":  forgotPasswordMessage,
	})
}

func (a *API) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	valid, err := a.svc.VerifyOTP(r.Context(), req.Email, req.Code)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"valid": valid})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password_reset.completed", map[string]any{"email": req.Email})
	writeSuccess(w, http.StatusOK, map[string]any{"message": "password updated"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	user, err := a.svc.Me(r.Context(), principal.IdentityID)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"user": user,
		// role asserted by the token; differs from user.role after a reassignment
		"token_role": principal.Role,
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	if err := a.svc.ChangePassword(r.Context(), principal.IdentityID, req.CurrentPassword, req.NewPassword); err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.changed", nil)
	writeSuccess(w, http.StatusOK, nil)
}

// handleFile is a download-style endpoint; links may carry the token as ?token=.
func (a *API) handleFile(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	name := mux.Vars(r)["name"]
	writeSuccess(w, http.StatusOK, map[string]any{
		"file":         name,
		"requested_by": principal.IdentityID,
	})
}
