package main

import (
	"fmt"

	"dashboard-auth/internal/config"
	"dashboard-auth/internal/logger"

	"github.com/spf13/cobra"
)

// cfg is loaded once before any subcommand runs.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "dashboard-auth",
	Short: "Session and organization authorization service",
	Long: `dashboard-auth issues sessions scoped to one organization at a time and
authorizes requests against the permissions of that organization.

Configuration comes from CONFIG_FILE (YAML) and environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		logger.Init(cfg.LogLevel)
		return nil
	},
}
