// Package handler exposes the storage-kit-hub REST API.
package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"storage-kit-hub/internal/auth"
	"storage-kit-hub/internal/authz"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/infrastructure/di"
	"storage-kit-hub/internal/logger"
	"storage-kit-hub/internal/middleware"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Handler serves every /api/v1 endpoint from the container's services.
type Handler struct {
	c *di.Container
}

func New(c *di.Container) *Handler {
	return &Handler{c: c}
}

// RegisterRoutes mounts the public and authenticated API under /api/v1.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()

	// public
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)

	secured := api.NewRoute().Subrouter()
	secured.Use(middleware.APIKeyAuth(middleware.APIAuthConfig{
		Keys:         h.c.APIKeyUC,
		Limiter:      h.c.Limiter,
		DefaultLimit: h.c.Config.RateLimit.RequestsPerMinute,
		Audit:        h.c.Audit,
		Logger:       h.c.Logger,
		Metrics:      h.c.Metrics,
	}))

	// API keys; ownership is checked per handler
	secured.HandleFunc("/keys", h.createKey).Methods(http.MethodPost)
	secured.HandleFunc("/keys", h.listKeys).Methods(http.MethodGet)
	secured.HandleFunc("/keys/{id}", h.getKey).Methods(http.MethodGet)
	secured.HandleFunc("/keys/{id}", h.updateKey).Methods(http.MethodPatch)
	secured.HandleFunc("/keys/{id}", h.deleteKey).Methods(http.MethodDelete)
	secured.HandleFunc("/keys/{id}/revoke", h.revokeKey).Methods(http.MethodPost)
	secured.HandleFunc("/keys/{id}/activate", h.activateKey).Methods(http.MethodPost)
	secured.HandleFunc("/keys/{id}/rotate", h.rotateKey).Methods(http.MethodPost)
	secured.HandleFunc("/keys/{id}/usage", h.keyUsage).Methods(http.MethodGet)

	admin := h.guard(authz.BackendSystem, authz.ActionAdmin)
	read := h.guard(authz.BackendSystem, authz.ActionRead)

	// users
	secured.Handle("/users", admin(h.createUser)).Methods(http.MethodPost)
	secured.Handle("/users", admin(h.listUsers)).Methods(http.MethodGet)
	secured.Handle("/users/{username}", admin(h.getUser)).Methods(http.MethodGet)
	secured.Handle("/users/{username}", admin(h.deleteUser)).Methods(http.MethodDelete)
	secured.Handle("/users/{username}/role", admin(h.setUserRole)).Methods(http.MethodPut)
	secured.Handle("/users/{username}/status", admin(h.setUserStatus)).Methods(http.MethodPut)
	// TOTP is self-service; userAccess also admits admins
	secured.HandleFunc("/users/{username}/totp", h.startTOTP).Methods(http.MethodPost)
	secured.HandleFunc("/users/{username}/totp/enable", h.enableTOTP).Methods(http.MethodPost)
	secured.HandleFunc("/users/{username}/totp", h.disableTOTP).Methods(http.MethodDelete)

	// roles and permissions
	secured.Handle("/roles", read(h.listRoles)).Methods(http.MethodGet)
	secured.Handle("/roles", admin(h.createRole)).Methods(http.MethodPost)
	secured.Handle("/roles/{role}", admin(h.deleteRole)).Methods(http.MethodDelete)
	secured.Handle("/roles/{role}/permissions", read(h.listPermissions)).Methods(http.MethodGet)
	secured.Handle("/roles/{role}/permissions", admin(h.grantPermission)).Methods(http.MethodPost)
	secured.Handle("/roles/{role}/permissions", admin(h.revokePermission)).Methods(http.MethodDelete)

	// authorization queries
	secured.Handle("/authz/check", admin(h.checkPermission)).Methods(http.MethodPost)
	secured.HandleFunc("/authz/me", h.checkOwnPermission).Methods(http.MethodGet)

	// audit
	secured.Handle("/audit/events", admin(h.auditEvents)).Methods(http.MethodGet)
	secured.Handle("/audit/stats", admin(h.auditStats)).Methods(http.MethodGet)
	secured.Handle("/audit/integrity", admin(h.auditIntegrity)).Methods(http.MethodGet)
	secured.Handle("/audit/export", admin(h.auditExport)).Methods(http.MethodGet)
	secured.Handle("/audit/retention", admin(h.auditRetention)).Methods(http.MethodPost)
	secured.Handle("/audit/access-logs", admin(h.accessLogs)).Methods(http.MethodGet)

	// backends and health
	configure := h.guard(authz.BackendSystem, authz.ActionConfigure)
	secured.Handle("/backends", h.guard(authz.BackendSystem, authz.ActionList)(h.listBackends)).Methods(http.MethodGet)
	secured.Handle("/backends", configure(h.createBackend)).Methods(http.MethodPost)
	secured.Handle("/backends/{name}", read(h.getBackend)).Methods(http.MethodGet)
	secured.Handle("/backends/{name}", configure(h.updateBackend)).Methods(http.MethodPut)
	secured.Handle("/backends/{name}", configure(h.deleteBackend)).Methods(http.MethodDelete)
	secured.Handle("/backends/{backend}/health",
		middleware.RequireBackendPermission(h.c.Authorizer, authz.ActionRead)(http.HandlerFunc(h.backendHealth))).
		Methods(http.MethodGet)
	secured.Handle("/health", read(h.healthReport)).Methods(http.MethodGet)

	// daemons
	secured.Handle("/daemons/{name}", admin(h.daemonStatus)).Methods(http.MethodGet)
	secured.Handle("/daemons/{name}/info", admin(h.daemonInfo)).Methods(http.MethodGet)
	secured.Handle("/daemons/{name}/start", admin(h.startDaemon)).Methods(http.MethodPost)
	secured.Handle("/daemons/{name}/stop", admin(h.stopDaemon)).Methods(http.MethodPost)
}

func (h *Handler) guard(backend, action string) func(http.HandlerFunc) http.Handler {
	mw := middleware.RequirePermission(h.c.Authorizer, backend, action)
	return func(fn http.HandlerFunc) http.Handler {
		return mw(fn)
	}
}

// isAdmin reports whether the caller holds system:admin. The check goes
// through the authorizer so it is audited like any other decision.
func (h *Handler) isAdmin(r *http.Request) (bool, error) {
	p := auth.FromContext(r.Context())
	if p == nil {
		return false, nil
	}
	d, err := h.c.Authorizer.Check(r.Context(), authz.Request{
		Subject:   p.Actor(),
		Role:      p.Role,
		Backend:   authz.BackendSystem,
		Action:    authz.ActionAdmin,
		KeyID:     p.KeyID,
		IP:        middleware.ClientIP(r),
		RequestID: logger.RequestIDFrom(r.Context()),
		Scopes:    p.Scopes,
		Backends:  p.Backends,
	})
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

func actor(ctx context.Context) string {
	return auth.ActorFrom(ctx)
}

func errInvalid(msg string) error {
	return derrors.ErrInvalidInput.WithMessage(msg)
}

func errInvalidDetails(msg string, details map[string]interface{}) error {
	return derrors.ErrInvalidInput.WithMessage(msg).WithDetails(details)
}
