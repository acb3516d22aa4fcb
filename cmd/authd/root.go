// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the authd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authd",
		Short: "authd - user registration, sessions and password resets",
		Long: `authd registers users, validates credentials, issues session
tokens and runs the password reset flow over a small HTTP API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}

// loadConfig layers defaults, the config file, the environment and any flags
// in flagKeys the user set on cmd. Without --config, the XDG config file is
// used when present.
func loadConfig(cmd *cobra.Command, flagKeys map[string]string) (*config.Config, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = xdg.ExistingConfigFile(); err != nil {
			return nil, err
		}
	}
	return config.Loader{
		Path:     path,
		Flags:    cmd.Flags(),
		FlagKeys: flagKeys,
	}.Load()
}
