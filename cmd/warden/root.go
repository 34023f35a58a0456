// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/warden/internal/config"
	"github.com/holomush/warden/internal/logging"
	"github.com/holomush/warden/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the warden CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warden",
		Short: "Warden - tamper-evident audit logging with anomaly scoring",
		Long: `Warden records privileged actions in a hash-chained audit log,
scores risk signals on administrative reads and persists anomaly
verdicts asynchronously in batches.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newVerifyCmd(deps))
	cmd.AddCommand(newRecordCmd(deps))
	cmd.AddCommand(NewTokenCmd())

	return cmd
}

// loadConfig resolves the configuration for cmd. Flags set on the command
// line override the environment, which overrides the config file. Without
// --config, $XDG_CONFIG_HOME/warden/config.yaml is used when present.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := configFile
	if path == "" {
		found, err := xdg.DefaultConfigFile()
		if err != nil {
			return config.Config{}, oops.Code(config.CodeInvalid).Wrapf(err, "locating default config file")
		}
		path = found
	}
	return config.Load(path, cmd.Flags())
}

// setupLogging installs the process-wide logger described by cfg.
func setupLogging(cfg config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.SetDefault("warden", version, cfg.Log.Format, level), nil
}
