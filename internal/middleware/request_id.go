package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"storage-kit-hub/internal/logger"
)

const RequestIDHeader = "X-Request-ID"

// RequestID attaches a request id to the context and the response header.
// A well-behaved client-supplied id is kept.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), reqID)))
	})
}
