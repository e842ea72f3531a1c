package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storage-kit-hub/internal/infrastructure/config"
	"storage-kit-hub/internal/infrastructure/di"
	"storage-kit-hub/internal/middleware"
	"storage-kit-hub/internal/testutil"
)

func newServer(t *testing.T) *Server {
	cfg := config.Default()
	cfg.Audit.FilePath = ""
	cfg.Daemons.Simulation = true
	c, err := di.New(cfg, nil, testutil.NewTestDB(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return New(c)
}

func TestHealthzAndRequestID(t *testing.T) {
	s := newServer(t)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestMetricsExposeHTTPCounters(t *testing.T) {
	s := newServer(t)
	s.Router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `route="/healthz"`))
}

func TestPreflightBypassesAuth(t *testing.T) {
	s := newServer(t)
	r := httptest.NewRequest(http.MethodOptions, "/api/v1/keys", nil)
	r.Header.Set("Origin", "https://console.example")
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://console.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPIRequiresKey(t *testing.T) {
	s := newServer(t)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/users", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
