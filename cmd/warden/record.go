// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/warden/internal/auditlog"
	"github.com/holomush/warden/internal/store"
)

// recordConfig holds configuration for the record command.
type recordConfig struct {
	actorID    int64
	targetID   int64
	actionType string
	detail     string
	payload    string
}

// newRecordCmd creates the record subcommand.
func newRecordCmd(deps *Deps) *cobra.Command {
	cfg := &recordConfig{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Append a record to the audit log",
		Long: `Append one privileged action to the audit log and print the stored
record. The input comes from flags or, with --json, from a single JSON
object with actor_id, target_id, action_type and detail.`,
		Example: `  warden record --actor 1 --target 2 --action UPDATE_ROLE --detail '{"role":"admin"}'
  warden record --json '{"actor_id":1,"target_id":2,"action_type":"BAN_USER"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecordWithDeps(cmd.Context(), cmd, cfg, deps)
		},
	}

	cmd.Flags().Int64Var(&cfg.actorID, "actor", 0, "id of the user performing the action")
	cmd.Flags().Int64Var(&cfg.targetID, "target", 0, "id of the user the action applies to")
	cmd.Flags().StringVar(&cfg.actionType, "action", "", "action type, e.g. UPDATE_ROLE")
	cmd.Flags().StringVar(&cfg.detail, "detail", "", "JSON document describing the action")
	cmd.Flags().StringVar(&cfg.payload, "json", "", "complete record as a JSON object")
	cmd.MarkFlagsMutuallyExclusive("json", "actor")
	cmd.MarkFlagsMutuallyExclusive("json", "target")
	cmd.MarkFlagsMutuallyExclusive("json", "action")
	cmd.MarkFlagsMutuallyExclusive("json", "detail")

	return cmd
}

// input builds the record input from the flags and validates it.
func (c *recordConfig) input() (auditlog.Input, error) {
	var in auditlog.Input
	if c.payload != "" {
		if err := json.Unmarshal([]byte(c.payload), &in); err != nil {
			return auditlog.Input{}, err
		}
	} else {
		in = auditlog.Input{
			ActorID:    c.actorID,
			TargetID:   c.targetID,
			ActionType: c.actionType,
		}
		if c.detail != "" {
			in.Detail = json.RawMessage(c.detail)
		}
	}
	if err := in.Validate(); err != nil {
		return auditlog.Input{}, err
	}
	return in, nil
}

func runRecordWithDeps(ctx context.Context, cmd *cobra.Command, rcfg *recordConfig, deps *Deps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	in, err := rcfg.input()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	pool, err := deps.PoolFactory(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrapf(err, "connecting to database")
	}
	defer pool.Close()

	pg := store.NewPostgres(pool,
		store.WithForkRetries(cfg.Chain.ForkRetries, cfg.Chain.ForkBackoff),
		store.WithPostgresLogger(logger),
	)
	rec, err := auditlog.NewWriter(pg, auditlog.WithLogger(logger)).Append(ctx, in)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	cmd.Println(string(out))
	return nil
}
