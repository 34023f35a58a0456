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

// verifyConfig holds configuration for the verify command.
type verifyConfig struct {
	pageSize   int
	jsonOutput bool
}

// verifyReport is the JSON form of a verification run.
type verifyReport struct {
	Intact        bool   `json:"intact"`
	Checked       int    `json:"checked"`
	FirstMismatch int    `json:"first_mismatch"`
	RecordID      int64  `json:"record_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// newVerifyCmd creates the verify subcommand.
func newVerifyCmd(deps *Deps) *cobra.Command {
	cfg := &verifyConfig{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit log hash chain",
		Long: `Read the whole audit log in chain order and recompute every hash.
The command exits non-zero at the first record that does not link to its
predecessor or whose stored hash does not match its content.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerifyWithDeps(cmd.Context(), cmd, cfg, deps)
		},
	}

	cmd.Flags().IntVar(&cfg.pageSize, "page-size", 500, "records read per query")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output the result as JSON")

	return cmd
}

func runVerifyWithDeps(ctx context.Context, cmd *cobra.Command, vcfg *verifyConfig, deps *Deps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	if vcfg.pageSize <= 0 {
		return oops.Code("INVALID_PAGE_SIZE").With("page_size", vcfg.pageSize).Errorf("--page-size must be positive")
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

	result, verifyErr := auditlog.VerifyStore(ctx, store.NewPostgres(pool), vcfg.pageSize, logger)
	if verifyErr != nil && !auditlog.IsChainIntegrity(verifyErr) {
		return verifyErr
	}

	if vcfg.jsonOutput {
		out, err := json.MarshalIndent(verifyReport{
			Intact:        verifyErr == nil,
			Checked:       result.Checked,
			FirstMismatch: result.FirstMismatch,
			RecordID:      result.RecordID,
			Reason:        result.Reason,
		}, "", "  ")
		if err != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(err)
		}
		cmd.Println(string(out))
	} else if verifyErr == nil {
		cmd.Printf("Audit chain intact: %d record(s) verified\n", result.Checked)
	} else {
		cmd.Printf("Audit chain BROKEN at index %d (record %d): %s\n",
			result.FirstMismatch, result.RecordID, result.Reason)
	}

	return verifyErr
}
