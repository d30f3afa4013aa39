package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"learnhub.org/internal/audit"
	"learnhub.org/internal/auth"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSuccess writes {"success":true, ...fields}.
func writeSuccess(w http.ResponseWriter, code int, fields map[string]any) {
	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["success"] = true
	writeJSON(w, code, payload)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"success": false,
		"message": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// decodeJSON reads one JSON object into dst and validates its tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	if err := validate.Struct(dst); err != nil {
		return validationMessage(err)
	}
	return nil
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "email":
		return fmt.Errorf("%s must be a valid email address", fe.Field())
	default:
		return fmt.Errorf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// handleError maps domain errors to HTTP statuses. Unknown errors are logged
// and surface as a generic 500.
func (a *API) handleError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	if code == http.StatusInternalServerError {
		a.log.WithFields(logrus.Fields{
			"event":      "request.error",
			"request_id": audit.RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err.Error(),
		}).Error("request failed")
	}
	if code == http.StatusUnauthorized && errors.Is(err, auth.ErrUnauthenticated) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="learnhub"`)
	}
	writeError(w, r, code, msg)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusForbidden, "invalid or expired token"
	case errors.Is(err, auth.ErrInsufficientRole):
		return http.StatusForbidden, "insufficient role"
	case errors.Is(err, auth.ErrInsufficientPermission):
		return http.StatusForbidden, "insufficient permission"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid email or password"
	case errors.Is(err, auth.ErrInvalidOrExpiredOTP):
		return http.StatusBadRequest, "invalid or expired code"
	case errors.Is(err, auth.ErrWeakPassword):
		return http.StatusUnprocessableEntity, fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength)
	case errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, auth.ErrDuplicateResource),
		errors.Is(err, auth.ErrRoleInUse),
		errors.Is(err, auth.ErrSystemRoleProtected):
		return http.StatusConflict, publicMessage(err)
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, publicMessage(err)
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound, publicMessage(err)
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func publicMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "auth: ")
}
