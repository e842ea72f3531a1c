// Package main is the storagekitctl admin CLI. It works directly against the
// configured database and is meant for bootstrapping and recovery when the
// HTTP API is unavailable.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"storage-kit-hub/cmd/storagekitctl/internal/commands"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:   "storagekitctl",
		Short: "Administer a storage-kit-hub installation",
		Long: `storagekitctl manages API keys and audit data of a storage-kit-hub
installation directly through its database, and generates development TLS
certificates. Configuration is read the same way as the server
(CONFIG_PATH, .env and environment overrides).`,
		SilenceUsage: true,
	}
	commands.Register(rootCmd)
	return rootCmd.Execute()
}
