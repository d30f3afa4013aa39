package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"learnhub.org/internal/auth"
	"learnhub.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "bearer "
	tokenQuery = "token"
)

// Authenticate verifies the bearer token and attaches the principal. The token
// is read from the Authorization header, or from ?token= when the header is
// absent. The credential store is not consulted.
func (a *API) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := auth.Authorize(a.tokens, bearerToken(r.Header.Get(authHeader)), r.URL.Query().Get(tokenQuery))
		if err != nil {
			a.deny(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireRole rejects requests whose principal holds none of roles.
func (a *API) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				a.deny(w, r, auth.ErrUnauthenticated)
				return
			}
			if !principal.HasAnyRole(roles...) {
				a.deny(w, r, auth.ErrInsufficientRole)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *API) RequireAdmin() func(http.Handler) http.Handler {
	return a.RequireRole(auth.RoleAdmin)
}

// RequirePermission rejects requests whose role lacks capability c. The
// resolved capability set is cached on the request context.
func (a *API) RequirePermission(c auth.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				a.deny(w, r, auth.ErrUnauthenticated)
				return
			}
			ctx := r.Context()
			caps, ok := auth.CapabilitiesFromContext(ctx)
			if !ok {
				var err error
				caps, err = a.rbac.RoleCapabilities(ctx, principal.Role)
				if err != nil {
					a.handleError(w, r, err)
					return
				}
				ctx = auth.ContextWithCapabilities(ctx, caps)
			}
			if !caps.Has(c) {
				a.deny(w, r, auth.ErrInsufficientPermission)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *API) deny(w http.ResponseWriter, r *http.Request, err error) {
	obs.AccessDenied(denyReason(err))
	a.handleError(w, r, err)
}

func denyReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, auth.ErrInsufficientRole):
		return "insufficient_role"
	case errors.Is(err, auth.ErrInsufficientPermission):
		return "insufficient_permission"
	default:
		return "other"
	}
}

// bearerToken returns the credential of a "Bearer" Authorization header, or
// an empty string for any other scheme.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}
