// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ingeniia/authsvc/internal/config"
	"github.com/ingeniia/authsvc/internal/logging"
	"github.com/ingeniia/authsvc/internal/xdg"
)

const serviceName = "authsvc"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the authsvc CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "authsvc - account registration, email verification and sessions",
		Long: `authsvc registers accounts, verifies email addresses with one-time codes
and issues JWT access and refresh tokens.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/authsvc/config.yaml)")
	cmd.PersistentFlags().String("log-format", "", "log format (json or text)")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewPruneCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig layers defaults, the config file, the environment and the
// flags the user set on cmd. Without --config the XDG config directories
// are searched for config.yaml.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := configFile
	if path == "" {
		if found, ok := xdg.ConfigFile(); ok {
			path = found
		}
	}
	return config.Load(path, cmd.Flags())
}

// newLogger builds the process logger from cfg and installs it as the
// slog default.
func newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	logger := logging.Setup(serviceName, version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return logger
}
