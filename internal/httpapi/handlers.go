package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"learnhub.org/internal/auth"
	"learnhub.org/internal/obs"
)

const serviceName = "learnhub-api"

// Pinger is implemented by backing stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the dependencies the API cannot serve without.
type ReadyProbe struct {
	DB    Pinger
	Redis Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	var errs []error
	if rp.DB != nil {
		if err := rp.DB.Ping(ctx); err != nil {
			errs = append(errs, errors.New("database: "+err.Error()))
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx); err != nil {
			errs = append(errs, errors.New("redis: "+err.Error()))
		}
	}
	return errors.Join(errs...)
}

// Deps wires the API to its services.
type Deps struct {
	Auth      *auth.Service
	RBAC      *auth.RBACService
	Ready     ReadyProbe
	Version   string
	RateLimit *RateLimiter
	Logger    logrus.FieldLogger
}

// API is the HTTP layer.
type API struct {
	svc     *auth.Service
	rbac    *auth.RBACService
	tokens  auth.TokenVerifier
	ready   ReadyProbe
	limiter *RateLimiter
	log     logrus.FieldLogger
	version string
	router  *mux.Router
}

func New(d Deps) (*API, error) {
	if d.Auth == nil || d.RBAC == nil {
		return nil, errors.New("auth and rbac services are required")
	}
	a := &API{
		svc:     d.Auth,
		rbac:    d.RBAC,
		tokens:  d.Auth.Tokens(),
		ready:   d.Ready,
		limiter: d.RateLimit,
		log:     d.Logger,
		version: d.Version,
	}
	if a.limiter == nil {
		a.limiter = NewRateLimiter(10, 5)
	}
	if a.log == nil {
		a.log = obs.Logger()
	}
	a.router = a.routes()
	return a, nil
}

// Handler returns the fully wrapped handler for the HTTP server.
func (a *API) Handler() http.Handler {
	return RequestID(a.Logging(SecurityHeaders(CORS(a.router))))
}

func (a *API) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Use(obs.Instrument)

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	limited := a.limiter.Middleware
	authed := a.Authenticate
	admin := a.RequireAdmin()

	r.Handle("/v1/auth/login", chain(a.handleLogin, limited)).Methods(http.MethodPost)
	r.Handle("/v1/auth/forgot-password", chain(a.handleForgotPassword, limited)).Methods(http.MethodPost)
	r.Handle("/v1/auth/verify-otp", chain(a.handleVerifyOTP, limited)).Methods(http.MethodPost)
	r.Handle("/v1/auth/reset-password", chain(a.handleResetPassword, limited)).Methods(http.MethodPost)
	r.Handle("/v1/auth/me", chain(a.handleMe, authed)).Methods(http.MethodGet)
	r.Handle("/v1/auth/change-password", chain(a.handleChangePassword, authed)).Methods(http.MethodPost)

	r.Handle("/v1/roles", chain(a.handleListRoles, authed, a.RequirePermission(auth.CapRoleManage))).Methods(http.MethodGet)
	r.Handle("/v1/roles", chain(a.handleCreateRole, authed, admin)).Methods(http.MethodPost)
	r.Handle("/v1/roles/{id}", chain(a.handleUpdateRole, authed, admin)).Methods(http.MethodPatch)
	r.Handle("/v1/roles/{id}", chain(a.handleDeleteRole, authed, admin)).Methods(http.MethodDelete)
	r.Handle("/v1/roles/{id}/permissions", chain(a.handleSetRolePermissions, authed, admin)).Methods(http.MethodPut)
	r.Handle("/v1/permissions", chain(a.handleListPermissions, authed, a.RequirePermission(auth.CapRoleManage))).Methods(http.MethodGet)

	r.Handle("/v1/users", chain(a.handleCreateUser, authed, a.RequirePermission(auth.CapUserManage))).Methods(http.MethodPost)
	r.Handle("/v1/users/{id}/role", chain(a.handleAssignRole, authed, admin)).Methods(http.MethodPut)

	r.Handle("/v1/files/{name}", chain(a.handleFile, authed)).Methods(http.MethodGet)
	return r
}

// chain applies middlewares so that the first one listed runs first.
func chain(h http.HandlerFunc, mws ...func(http.Handler) http.Handler) http.Handler {
	var out http.Handler = h
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		a.log.WithFields(logrus.Fields{"event": "readiness.failed", "error": err.Error()}).Warn("not ready")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
