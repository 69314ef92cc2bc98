package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the provisioning CLI. Subcommands (worker, provision, bootstrap, auth) are attached here.
var rootCmd = &cobra.Command{
	Use:           "gtm",
	Short:         "GTM provisioning CLI",
	Long:          "Operational utilities for infrastructure provisioning (job worker, manual runs, schema bootstrap, dev tokens).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string (defaults to DATABASE_URL)")
	rootCmd.PersistentFlags().String("schema", "", "Provisioning schema (defaults to DATABASE_SCHEMA or gtm)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
