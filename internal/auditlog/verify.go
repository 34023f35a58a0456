// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auditlog

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/warden/pkg/errutil"
)

// Reasons a record fails verification.
const (
	ReasonGenesisHasPrevious   = "genesis_has_previous"
	ReasonPreviousHashMismatch = "previous_hash_mismatch"
	ReasonHashMismatch         = "hash_mismatch"
)

// VerifyResult summarizes a verification run. FirstMismatch is the index of
// the first bad record in chain order, or -1.
type VerifyResult struct {
	Checked       int
	FirstMismatch int
	RecordID      int64
	Reason        string
}

// Verifier checks records one at a time in ascending chain order. It stops
// at the first mismatch; later records are not inspected.
type Verifier struct {
	index    int
	prevHash *string
	result   VerifyResult
	err      error
}

// NewVerifier starts verification at the genesis record.
func NewVerifier() *Verifier {
	return &Verifier{result: VerifyResult{FirstMismatch: -1}}
}

// Feed checks the next record. It returns the chain integrity error once a
// mismatch has been found.
func (v *Verifier) Feed(r Record) error {
	if v.err != nil {
		return v.err
	}

	reason := ""
	switch {
	case v.index == 0 && r.PreviousHash != nil:
		reason = ReasonGenesisHasPrevious
	case v.index > 0 && (r.PreviousHash == nil || *r.PreviousHash != *v.prevHash):
		reason = ReasonPreviousHashMismatch
	default:
		want, err := Hash(r)
		if err != nil || want != r.Hash {
			reason = ReasonHashMismatch
		}
	}

	v.result.Checked++
	recordsVerifiedCounter.Inc()
	if reason != "" {
		v.result.FirstMismatch = v.index
		v.result.RecordID = r.ID
		v.result.Reason = reason
		chainBreaksCounter.Inc()
		v.err = oops.Code(CodeChainBroken).
			With("index", v.index).
			With("record_id", r.ID).
			With("reason", reason).
			Errorf("audit chain broken at index %d (record %d): %s", v.index, r.ID, reason)
		return v.err
	}

	h := r.Hash
	v.prevHash = &h
	v.index++
	return nil
}

// Result returns the verification summary so far.
func (v *Verifier) Result() VerifyResult {
	return v.result
}

// Verify checks a complete chain in ascending order.
func Verify(records []Record) (VerifyResult, error) {
	v := NewVerifier()
	for _, r := range records {
		if err := v.Feed(r); err != nil {
			return v.Result(), err
		}
	}
	return v.Result(), nil
}

// ScanStore reads the chain in ascending id order.
type ScanStore interface {
	ListAscending(ctx context.Context, afterID int64, limit int) ([]Record, error)
}

// VerifyStore streams the whole chain out of store page by page. A broken
// chain is logged at ERROR as a security incident; nothing is repaired.
func VerifyStore(ctx context.Context, store ScanStore, pageSize int, logger *slog.Logger) (VerifyResult, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	if logger == nil {
		logger = slog.Default()
	}

	v := NewVerifier()
	var after int64
	for {
		page, err := store.ListAscending(ctx, after, pageSize)
		if err != nil {
			return v.Result(), oops.Code(CodeListFailed).With("after_id", after).Wrapf(err, "reading audit chain")
		}
		for _, r := range page {
			if err := v.Feed(r); err != nil {
				errutil.LogErrorContext(ctx, logger, slog.LevelError, "audit chain integrity failure", err,
					"security_incident", true,
					"checked", v.Result().Checked,
				)
				return v.Result(), err
			}
			after = r.ID
		}
		if len(page) < pageSize {
			break
		}
	}

	logger.InfoContext(ctx, "audit chain verified", "checked", v.Result().Checked)
	return v.Result(), nil
}
