// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auditlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/warden/pkg/errutil"
)

// buildChain returns n correctly linked records with ids 1..n.
func buildChain(t *testing.T, n int) []Record {
	t.Helper()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	records := make([]Record, 0, n)
	var prev *string
	for i := range n {
		r := Record{
			ID:           int64(i + 1),
			ActorID:      1,
			TargetID:     int64(i + 10),
			ActionType:   "LOGIN",
			PreviousHash: prev,
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		}
		h, err := Hash(r)
		require.NoError(t, err)
		r.Hash = h
		records = append(records, r)
		prev = &h
	}
	return records
}

func TestVerify_CleanChain(t *testing.T) {
	res, err := Verify(buildChain(t, 10))
	require.NoError(t, err)
	assert.Equal(t, VerifyResult{Checked: 10, FirstMismatch: -1}, res)
}

func TestVerify_Empty(t *testing.T) {
	res, err := Verify(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Checked)
	assert.Equal(t, -1, res.FirstMismatch)
}

func TestVerify_DetectsTampering(t *testing.T) {
	tests := []struct {
		name       string
		tamper     func([]Record)
		wantIndex  int
		wantReason string
	}{
		{
			name:       "genesis with previous hash",
			tamper:     func(r []Record) { r[0].PreviousHash = strPtr("x") },
			wantIndex:  0,
			wantReason: ReasonGenesisHasPrevious,
		},
		{
			name:       "edited field",
			tamper:     func(r []Record) { r[3].TargetID = 999 },
			wantIndex:  3,
			wantReason: ReasonHashMismatch,
		},
		{
			name:       "rewritten hash",
			tamper:     func(r []Record) { r[2].Hash = "deadbeef" },
			wantIndex:  2,
			wantReason: ReasonHashMismatch,
		},
		{
			name:       "deleted record",
			tamper:     func(r []Record) { copy(r[4:], r[5:]) },
			wantIndex:  4,
			wantReason: ReasonPreviousHashMismatch,
		},
		{
			name:       "missing link",
			tamper:     func(r []Record) { r[6].PreviousHash = nil },
			wantIndex:  6,
			wantReason: ReasonPreviousHashMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := buildChain(t, 8)
			tt.tamper(records)
			before := testutil.ToFloat64(chainBreaksCounter)

			res, err := Verify(records)

			require.Error(t, err)
			assert.True(t, IsChainIntegrity(err))
			errutil.AssertErrorContext(t, err, "index", tt.wantIndex)
			errutil.AssertErrorContext(t, err, "reason", tt.wantReason)
			assert.Equal(t, tt.wantIndex, res.FirstMismatch)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.Equal(t, records[tt.wantIndex].ID, res.RecordID)
			assert.Equal(t, tt.wantIndex+1, res.Checked)
			assert.InDelta(t, 1, testutil.ToFloat64(chainBreaksCounter)-before, 1e-9)
		})
	}
}

func TestVerifier_StopsAtFirstMismatch(t *testing.T) {
	records := buildChain(t, 5)
	records[1].Hash = "bad"

	v := NewVerifier()
	require.NoError(t, v.Feed(records[0]))
	first := v.Feed(records[1])
	require.Error(t, first)

	assert.Equal(t, first, v.Feed(records[2]))
	assert.Equal(t, 2, v.Result().Checked)
}

type pagedStore struct {
	records []Record
	calls   int
	err     error
}

func (p *pagedStore) ListAscending(_ context.Context, afterID int64, limit int) ([]Record, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	out := []Record{}
	for _, r := range p.records {
		if r.ID > afterID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestVerifyStore_Pages(t *testing.T) {
	store := &pagedStore{records: buildChain(t, 10)}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	res, err := VerifyStore(context.Background(), store, 3, logger)

	require.NoError(t, err)
	assert.Equal(t, 10, res.Checked)
	assert.Equal(t, -1, res.FirstMismatch)
	assert.Equal(t, 4, store.calls)
	assert.Contains(t, buf.String(), "audit chain verified")
}

func TestVerifyStore_LogsSecurityIncident(t *testing.T) {
	records := buildChain(t, 10)
	records[7].ActionType = "TAMPERED"
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	res, err := VerifyStore(context.Background(), &pagedStore{records: records}, 4, logger)

	require.Error(t, err)
	assert.True(t, IsChainIntegrity(err))
	assert.Equal(t, 7, res.FirstMismatch)
	assert.Contains(t, buf.String(), `"security_incident":true`)
	assert.Contains(t, buf.String(), CodeChainBroken)
}

func TestVerifyStore_ReadFailure(t *testing.T) {
	_, err := VerifyStore(context.Background(), &pagedStore{err: errors.New("connection reset")}, 0, nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeListFailed)
}

func ExampleVerify() {
	r := Record{ID: 1, ActorID: 1, TargetID: 2, ActionType: "LOGIN", CreatedAt: time.Unix(0, 0)}
	r.Hash, _ = Hash(r)

	res, err := Verify([]Record{r})
	fmt.Println(res.Checked, res.FirstMismatch, err)
	// Output: 1 -1 <nil>
}
