package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"storage-kit-hub/internal/handler"
	"storage-kit-hub/internal/infrastructure/di"
	"storage-kit-hub/internal/middleware"
	"storage-kit-hub/internal/presentation/http/response"
)

// Server represents the HTTP server with configured middleware
type Server struct {
	Router *mux.Router
	http   *http.Server
	c      *di.Container
}

// New builds the router over the container's services and attaches middleware.
func New(c *di.Container) *Server {
	router := mux.NewRouter()

	// Order matters: request ID first so every later layer can log it
	router.Use(middleware.RequestID)
	router.Use(middleware.Recover(c.Logger.Named("http")))
	router.Use(middleware.CORS)
	router.Use(middleware.Logging(c.Logger, c.Metrics))

	// preflight requests never reach the authenticated routes
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]interface{}{
			"status":  "ok",
			"version": c.Config.Application.Version,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", c.Metrics.Handler()).Methods(http.MethodGet)

	handler.New(c).RegisterRoutes(router)

	cfg := c.Config.Server
	return &Server{
		Router: router,
		c:      c,
		http: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           router,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// ListenAndServe serves HTTPS when a certificate is configured, HTTP otherwise.
// It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	tls := s.c.Config.Server.TLS
	log := s.c.Logger.Zap()
	var err error
	if tls.Enabled() {
		log.Info("server listening", zap.String("addr", s.http.Addr), zap.Bool("tls", true))
		err = s.http.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		log.Info("server listening", zap.String("addr", s.http.Addr), zap.Bool("tls", false))
		err = s.http.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
