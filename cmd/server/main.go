package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"storage-kit-hub/internal/database"
	"storage-kit-hub/internal/infrastructure/config"
	"storage-kit-hub/internal/infrastructure/di"
	"storage-kit-hub/internal/logger"
	"storage-kit-hub/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "storage-kit-hub: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	log, err := logger.New(cfg.Logging, db.GetDB())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	zl := log.Zap()

	c, err := di.New(cfg, log, db)
	if err != nil {
		return err
	}

	ctx := context.Background()
	key, err := c.EnsureAdminKey(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if key != nil && key.Key != "" {
		// the only time this key is ever shown
		zl.Warn("generated bootstrap admin API key, store it now",
			zap.String("key_id", key.ID), zap.String("api_key", key.Key))
	}

	c.Start()
	srv := server.New(c)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-quit:
		zl.Info("shutting down", zap.String("signal", sig.String()))
	case serveErr = <-errCh:
		if serveErr != nil {
			zl.Error("server failed", zap.Error(serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("http shutdown", zap.Error(err))
	}
	if err := c.Close(shutdownCtx); err != nil {
		zl.Error("container shutdown", zap.Error(err))
	}
	zl.Info("server exited")
	return serveErr
}
