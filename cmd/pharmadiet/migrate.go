// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/pharmadiet/pharmadiet/internal/config"
	"github.com/pharmadiet/pharmadiet/internal/store"
)

// migrator is the part of store.Migrator the migrate commands use.
type migrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() (store.Status, error)
	Close() error
}

// migratorFactory is swapped in tests.
var migratorFactory = func(url string) (migrator, error) {
	return store.NewMigrator(url)
}

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the user database schema",
		Long: `Apply, inspect or roll back the embedded schema migrations.
Without a subcommand, applies all pending migrations.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m migrator) error {
				return migrateUp(cmd, m)
			})
		},
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL URL (default: config or $"+config.DatabaseURLEnv+")")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m migrator) error { return migrateUp(cmd, m) })
		},
	})

	var confirm bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration (drops all users)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return oops.Code("CONFIRMATION_REQUIRED").Errorf("refusing to drop the users table without --yes")
			}
			return withMigrator(cmd, func(m migrator) error {
				if err := m.Down(); err != nil {
					return err //nolint:wrapcheck // store errors carry codes
				}
				cmd.Println("All migrations rolled back")
				return nil
			})
		},
	}
	down.Flags().BoolVar(&confirm, "yes", false, "confirm the destructive rollback")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m migrator) error {
				st, err := m.Status()
				if err != nil {
					return err //nolint:wrapcheck // store errors carry codes
				}
				cmd.Print(formatStatus(st))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it (dirty-state recovery)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, func(m migrator) error {
				if err := m.Force(v); err != nil {
					return err //nolint:wrapcheck // store errors carry codes
				}
				cmd.Printf("Schema version forced to %d\n", v)
				return nil
			})
		},
	})

	return cmd
}

func migrateUp(cmd *cobra.Command, m migrator) error {
	before, err := m.Status()
	if err != nil {
		return err //nolint:wrapcheck // store errors carry codes
	}
	if len(before.Pending) == 0 {
		cmd.Println("Schema is up to date")
		return nil
	}
	if err := m.Up(); err != nil {
		return err //nolint:wrapcheck // store errors carry codes
	}
	for _, mig := range before.Pending {
		cmd.Printf("Applied %s\n", mig.Name)
	}
	return nil
}

func withMigrator(cmd *cobra.Command, fn func(migrator) error) error {
	url, err := resolveDatabaseURL(cmd)
	if err != nil {
		return err
	}
	m, err := migratorFactory(url)
	if err != nil {
		return err //nolint:wrapcheck // store errors carry codes
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("warning: closing migrator: %v\n", closeErr)
		}
	}()
	return fn(m)
}

// resolveDatabaseURL prefers --database-url, then the config file, then the
// environment.
func resolveDatabaseURL(cmd *cobra.Command) (string, error) {
	if url, _ := cmd.Flags().GetString("database-url"); url != "" { //nolint:errcheck // flag is registered
		return url, nil
	}
	cfg, err := loadConfig(nil)
	if err != nil {
		return "", err //nolint:wrapcheck // config errors carry codes
	}
	if cfg.Database.URL == "" {
		return "", oops.Code("CONFIG_INVALID").
			Errorf("database URL is required: set --database-url, database.url or $%s", config.DatabaseURLEnv)
	}
	return cfg.Database.URL, nil
}

// parseForceVersion parses a non-negative schema version.
func parseForceVersion(s string) (int, error) {
	s = strings.TrimSpace(s)
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil || fmt.Sprint(v) != s {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be an integer, got %q", s)
	}
	if v < 0 {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be non-negative, got %d", v)
	}
	return v, nil
}

func formatStatus(st store.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current version: %d", st.Current)
	if st.Dirty {
		b.WriteString(" (dirty: fix the schema, then run 'migrate force')")
	}
	b.WriteString("\n")
	for _, m := range st.Applied {
		fmt.Fprintf(&b, "  [x] %s\n", m.Name)
	}
	for _, m := range st.Pending {
		fmt.Fprintf(&b, "  [ ] %s\n", m.Name)
	}
	return b.String()
}
