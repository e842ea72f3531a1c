package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"storage-kit-hub/internal/logger"
	"storage-kit-hub/internal/metrics"
)

// requestInfo is filled in by inner middleware so the outer logging layer can
// report who made the request.
type requestInfo struct {
	actor string
}

type infoKey struct{}

func setActor(ctx context.Context, actor string) {
	if info, ok := ctx.Value(infoKey{}).(*requestInfo); ok {
		info.actor = actor
	}
}

// Logging records a structured request/response pair and HTTP metrics.
func Logging(l *logger.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	if l == nil {
		l = logger.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			info := &requestInfo{}
			ctx := context.WithValue(r.Context(), infoKey{}, info)
			rec := newStatusRecorder(w)

			l.LogAPIRequest(ctx, r.Method, r.URL.Path, r.UserAgent(), ClientIP(r), "")
			next.ServeHTTP(rec, r.WithContext(ctx))

			elapsed := time.Since(start)
			l.LogAPIResponse(ctx, r.Method, r.URL.Path, rec.status, elapsed, info.actor)
			m.ObserveHTTP(r.Method, routeLabel(r), rec.status, elapsed)
		})
	}
}

// routeLabel keeps metric cardinality bounded by using the route template.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// statusRecorder captures the status code and size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	size        int64
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.size += int64(n)
	return n, err
}

// ClientIP extracts the client address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}
