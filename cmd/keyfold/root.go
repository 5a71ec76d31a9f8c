package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Keyfold CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyfold",
		Short: "Keyfold - token-based authentication service",
		Long: `Keyfold is a standalone authentication service: registration, login,
bearer tokens, password reset, and profile management over an HTTP API
backed by PostgreSQL.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
