// Package cmdutil holds the flag and config plumbing shared by CLI commands.
package cmdutil

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/modernagencysales/gc-member-portal-sub004/apps/internal/stack"
	platformlogging "github.com/modernagencysales/gc-member-portal-sub004/platform/go/logging"
)

// Config loads the shared environment, letting --database-url and --schema
// override DATABASE_URL and DATABASE_SCHEMA.
func Config(cmd *cobra.Command) (stack.Config, error) {
	if err := stack.LoadDotEnv(); err != nil {
		return stack.Config{}, err
	}
	databaseURL, _ := cmd.Flags().GetString("database-url")
	schema, _ := cmd.Flags().GetString("schema")
	return stack.Load(map[string]string{
		"DATABASE_URL":    databaseURL,
		"DATABASE_SCHEMA": schema,
	})
}

// Logger writes JSON logs to stderr so command output stays clean on stdout.
func Logger(cmd *cobra.Command, component string) (*zap.Logger, error) {
	level, _ := cmd.Flags().GetString("log-level")
	return platformlogging.NewLogger(platformlogging.Config{
		Component: component,
		Level:     level,
		Output:    os.Stderr,
	})
}
