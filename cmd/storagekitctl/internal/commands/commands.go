package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"storage-kit-hub/internal/database"
	"storage-kit-hub/internal/infrastructure/config"
	"storage-kit-hub/internal/infrastructure/di"
	"storage-kit-hub/internal/logger"
)

// Register attaches every command group to root.
func Register(root *cobra.Command) {
	root.PersistentFlags().String("config", "", "config file (default $CONFIG_PATH or configs/app.yaml)")
	root.AddCommand(newCertCommand())
	root.AddCommand(newKeysCommand())
	root.AddCommand(newAuditCommand())
}

// env is an opened container plus its teardown.
type env struct {
	c     *di.Container
	close func() error
}

// openEnv loads configuration and wires a container over the database. The
// audit file and console sinks are left out; events still reach the database.
func openEnv(cmd *cobra.Command) (*env, error) {
	var (
		cfg *config.Config
		err error
	)
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	cfg.Audit.FilePath = ""
	cfg.Audit.ConsoleSink = false
	cfg.Daemons.Simulation = true
	return openEnvWith(cfg)
}

func openEnvWith(cfg *config.Config) (*env, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	c, err := di.New(cfg, logger.NewNop(), db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := c.Authorizer.SeedDefaults(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &env{
		c: c,
		close: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			cerr := c.Close(ctx)
			if err := db.Close(); err != nil && cerr == nil {
				cerr = err
			}
			return cerr
		},
	}, nil
}
