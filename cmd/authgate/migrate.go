// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authgate/internal/config"
	"github.com/holomush/authgate/internal/gate/postgres"
)

// Migrator is the subset of postgres.Migrator the migrate commands use.
type Migrator interface {
	Up() error
	Down() error
	Status() (postgres.Status, error)
	Close() error
}

// migratorFactory creates a Migrator; tests replace it.
var migratorFactory = func(url string) (Migrator, error) {
	return postgres.NewMigrator(url)
}

// NewMigrateCmd creates the migrate command and its subcommands.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the session record schema",
		Long: `Apply or roll back the PostgreSQL schema used by the postgres
session cache backend. Reads session_cache.postgres_url from the config.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m Migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations applied")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m Migrator) error {
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("Migrations rolled back")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied migration version and whether migrations are pending",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m Migrator) error {
				st, err := m.Status()
				if err != nil {
					return err
				}
				switch {
				case st.Dirty:
					cmd.Printf("Version: %d (dirty)\n", st.Version)
				case st.Pending():
					cmd.Printf("Version: %d (latest %d, run migrate up)\n", st.Version, st.Latest)
				default:
					cmd.Printf("Version: %d\n", st.Version)
				}
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(Migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	url := cfg.SessionCache.PostgresURL
	if url == "" {
		return oops.Code("CONFIG_INVALID").
			Hint("set session_cache.postgres_url").
			Errorf("a PostgreSQL URL is required to run migrations")
	}
	if cfg.SessionCache.Backend != config.BackendPostgres {
		cmd.PrintErrf("warning: session_cache.backend is %q, not %q\n", cfg.SessionCache.Backend, config.BackendPostgres)
	}

	m, err := migratorFactory(url)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("warning: closing migrator: %v\n", closeErr)
		}
	}()
	return fn(m)
}
