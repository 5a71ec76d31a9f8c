// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package main

import (
	"os"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyfold/keyfold/internal/config"
	"github.com/keyfold/keyfold/internal/store"
)

// NewMigrateCmd creates the migrate subcommand tree.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back, and inspect schema migrations against the PostgreSQL database.`,
	}

	cmd.PersistentFlags().String("database.url", config.Default().Database.URL,
		"PostgreSQL connection URL (defaults to DATABASE_URL)")

	cmd.AddCommand(
		newMigrateUpCmd(),
		newMigrateDownCmd(),
		newMigrateStepsCmd(),
		newMigrateStatusCmd(),
		newMigrateForceCmd(),
	)
	return cmd
}

// migrateDatabaseURL resolves the connection URL from the flag, the
// environment, or the config file, in that order.
func migrateDatabaseURL(cmd *cobra.Command) (string, error) {
	if cmd.Flags().Changed("database.url") {
		return cmd.Flags().GetString("database.url")
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url, nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	return cfg.Database.URL, nil
}

func withMigrator(cmd *cobra.Command, fn func(*store.Migrator) error) error {
	url, err := migrateDatabaseURL(cmd)
	if err != nil {
		return err
	}
	migrator, err := store.NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			cmd.PrintErrln("warning: failed to close migrator:", closeErr)
		}
	}()
	return fn(migrator)
}

// migrateUp applies all pending migrations. Shared with serve --auto-migrate.
func migrateUp(databaseURL string) error {
	migrator, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer migrator.Close() //nolint:errcheck // Nothing actionable on close failure here.
	return migrator.Up()
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations applied")
				return nil
			})
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("Migrations rolled back")
				return nil
			})
		},
	}
}

func newMigrateStepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "steps <n>",
		Short: "Apply n migrations (negative rolls back)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_ARGUMENT").Errorf("steps must be an integer, got %q", args[0])
			}
			return withMigrator(cmd, func(m *store.Migrator) error {
				if err := m.Steps(n); err != nil {
					return err
				}
				cmd.Printf("Applied %d migration step(s)\n", n)
				return nil
			})
		},
	}
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				if version == 0 {
					cmd.Println("Current version: none")
				} else {
					name, _ := store.MigrationName(version)
					cmd.Printf("Current version: %d (%s)", version, name)
					if dirty {
						cmd.Print(" DIRTY")
					}
					cmd.Println()
				}

				pending, err := m.PendingMigrations()
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					cmd.Println("No pending migrations")
					return nil
				}
				cmd.Println("Pending:")
				for _, v := range pending {
					name, _ := store.MigrationName(v)
					cmd.Printf("  %d (%s)\n", v, name)
				}
				return nil
			})
		},
	}
}

func newMigrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force the migration version without running migrations",
		Long: `Force the recorded schema version. Use only to recover from a dirty
migration state after manually verifying the schema.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_ARGUMENT").Errorf("version must be an integer, got %q", args[0])
			}
			return withMigrator(cmd, func(m *store.Migrator) error {
				if err := m.Force(v); err != nil {
					return err
				}
				cmd.Printf("Forced version to %d\n", v)
				return nil
			})
		},
	}
}
