package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
	devMode    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cloudlift",
		Short: "CloudLift - Application Deployment Orchestrator",
		Long: `CloudLift launches, monitors and tears down application deployments on
cloud infrastructure through pluggable application types.

Features:
  - Pluggable application plugins (base VM, web app)
  - CUE-validated application configs with Starlark derivation hooks
  - OPA policy gate ahead of every launch
  - SQLite-backed deployment records and progress log
  - SSH/SFTP host configuration`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "use the in-memory fake provider")

	rootCmd.AddCommand(newLaunchCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newRestartCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newPluginsCommand())

	return rootCmd
}
