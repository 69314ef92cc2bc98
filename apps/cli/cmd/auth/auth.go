package auth

import "github.com/spf13/cobra"

// Command groups authentication helpers for local development.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication helpers (dev tokens)",
	}
	cmd.AddCommand(devTokenCommand())
	return cmd
}
