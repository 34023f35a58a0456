// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/warden/internal/api"
	"github.com/holomush/warden/internal/config"
)

// NewTokenCmd creates the token subcommand, which mints bearer tokens for
// operators and tests.
func NewTokenCmd() *cobra.Command {
	var (
		actorID int64
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the audit API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return oops.Code(config.CodeInvalid).With("key", "auth.jwt-secret").Errorf("auth.jwt-secret is required")
			}
			if actorID <= 0 {
				return oops.Code(config.CodeInvalid).With("actor", actorID).Errorf("--actor must be a positive integer")
			}
			if ttl <= 0 {
				return oops.Code(config.CodeInvalid).With("ttl", ttl).Errorf("--ttl must be positive")
			}

			token, err := api.NewJWTAuthenticator(cfg.Auth.JWTSecret).Issue(actorID, role, ttl)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}

	cmd.Flags().Int64Var(&actorID, "actor", 0, "user id carried in the token")
	cmd.Flags().StringVar(&role, "role", "admin", "role carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")

	return cmd
}
