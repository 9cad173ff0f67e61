// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pharmadiet/pharmadiet/internal/config"
	"github.com/pharmadiet/pharmadiet/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the pharmadiet CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pharmadiet",
		Short: "Pharmadiet - staff authentication and authorization engine",
		Long: `Pharmadiet authenticates pharmacy staff, enforces login lockout,
tracks sessions and maps roles to permissions.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML; default $XDG_CONFIG_HOME/pharmadiet/config.yaml if present)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewHashPasswordCmd())
	cmd.AddCommand(NewTokenCmd())
	cmd.AddCommand(NewPermissionsCmd())

	return cmd
}

// configPath returns --config, or the XDG config file when one exists.
func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return xdg.FindConfig() //nolint:wrapcheck // xdg errors carry codes
}

// loadConfig loads configuration from configPath. fs may be nil.
func loadConfig(fs *pflag.FlagSet) (config.Config, error) {
	path, err := configPath()
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(path, fs) //nolint:wrapcheck // config errors carry codes
}
