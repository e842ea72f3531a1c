package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"storage-kit-hub/internal/auth"
	"storage-kit-hub/internal/authz"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/logger"
	"storage-kit-hub/internal/presentation/http/response"
)

// BackendVar is the route variable carrying the target backend.
const BackendVar = "backend"

func backendOf(r *http.Request) string {
	return mux.Vars(r)[BackendVar]
}

// RequirePermission allows the request only when the authenticated principal
// may perform action on backend.
func RequirePermission(z *authz.Authorizer, backend, action string) func(http.Handler) http.Handler {
	return authorize(z, func(*http.Request) string { return backend }, action)
}

// RequireBackendPermission is RequirePermission with the backend taken from
// the {backend} route variable.
func RequireBackendPermission(z *authz.Authorizer, action string) func(http.Handler) http.Handler {
	return authorize(z, backendOf, action)
}

func authorize(z *authz.Authorizer, backend func(*http.Request) string, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := auth.FromContext(r.Context())
			if p == nil {
				response.Error(w, derrors.ErrUnauthorized)
				return
			}
			d, err := z.Check(r.Context(), authz.Request{
				Subject:   p.Actor(),
				Role:      p.Role,
				Backend:   backend(r),
				Action:    action,
				KeyID:     p.KeyID,
				IP:        ClientIP(r),
				RequestID: logger.RequestIDFrom(r.Context()),
				Scopes:    p.Scopes,
				Backends:  p.Backends,
			})
			if err != nil {
				response.Error(w, err)
				return
			}
			if !d.Allowed {
				response.Error(w, derrors.ErrInsufficientAuth.WithMessage(d.Reason))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
