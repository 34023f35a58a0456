// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auditlog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/warden/internal/auditlog"
	"github.com/holomush/warden/internal/reqctx"
	"github.com/holomush/warden/internal/store"
	"github.com/holomush/warden/pkg/errutil"
)

func newWriter(s auditlog.ChainStore, buf *bytes.Buffer) *auditlog.Writer {
	return auditlog.NewWriter(s, auditlog.WithLogger(slog.New(slog.NewJSONHandler(buf, nil))))
}

func TestWriter_SerialAppendsVerify(t *testing.T) {
	mem := store.NewMemory()
	var buf bytes.Buffer
	w := newWriter(mem, &buf)

	for i := range 20 {
		rec, err := w.Append(context.Background(), auditlog.Input{
			ActorID:    1,
			TargetID:   int64(i + 1),
			ActionType: "UPDATE_ROLE",
			Detail:     json.RawMessage(`{"to": "security"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), rec.ID)
	}

	records := mem.Records()
	require.Len(t, records, 20)
	assert.Nil(t, records[0].PreviousHash)
	for i := 1; i < len(records); i++ {
		require.NotNil(t, records[i].PreviousHash)
		assert.Equal(t, records[i-1].Hash, *records[i].PreviousHash)
	}

	res, err := auditlog.Verify(records)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Checked)
	assert.Equal(t, -1, res.FirstMismatch)
}

func TestWriter_StoresCanonicalDetail(t *testing.T) {
	mem := store.NewMemory()
	var buf bytes.Buffer
	w := newWriter(mem, &buf)

	rec, err := w.Append(context.Background(), auditlog.Input{
		ActorID: 1, TargetID: 2, ActionType: "X",
		Detail: json.RawMessage(`{ "b": 2.0, "a": 1 }`),
	})
	require.NoError(t, err)

	assert.Equal(t, `{"a":1,"b":2}`, string(rec.Detail))
	assert.Equal(t, time.UTC, rec.CreatedAt.Location())
}

func TestWriter_ConcurrentAppendsDoNotFork(t *testing.T) {
	mem := store.NewMemory()
	var buf bytes.Buffer
	w := newWriter(mem, &buf)
	_, err := w.Append(context.Background(), auditlog.Input{ActorID: 1, TargetID: 1, ActionType: "SEED"})
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Append(context.Background(), auditlog.Input{ActorID: 2, TargetID: int64(i + 1), ActionType: "LOGIN"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	records := mem.Records()
	require.Len(t, records, n+1)

	seen := make(map[string]bool, n)
	for _, r := range records[1:] {
		require.NotNil(t, r.PreviousHash)
		assert.False(t, seen[*r.PreviousHash], "previous hash %s shared", *r.PreviousHash)
		seen[*r.PreviousHash] = true
	}
	_, err = auditlog.Verify(records)
	assert.NoError(t, err)
}

func TestWriter_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   auditlog.Input
	}{
		{"target zero", auditlog.Input{ActorID: 1, TargetID: 0, ActionType: "X"}},
		{"actor negative", auditlog.Input{ActorID: -3, TargetID: 1, ActionType: "X"}},
		{"blank action", auditlog.Input{ActorID: 1, TargetID: 1, ActionType: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			var buf bytes.Buffer
			w := newWriter(mem, &buf)

			_, err := w.Append(context.Background(), tt.in)

			require.Error(t, err)
			assert.True(t, auditlog.IsValidation(err))
			assert.Empty(t, mem.Records())
			assert.Contains(t, buf.String(), "audit record rejected")
		})
	}
}

func TestWriter_RejectsNonIntegerActorFromPayload(t *testing.T) {
	mem := store.NewMemory()
	var buf bytes.Buffer
	w := newWriter(mem, &buf)

	var in auditlog.Input
	err := json.Unmarshal([]byte(`{"actor_id":"abc","target_id":1,"action_type":"X"}`), &in)
	require.Error(t, err)
	assert.True(t, auditlog.IsValidation(err))

	_, err = w.Append(context.Background(), in)
	require.Error(t, err)
	assert.Empty(t, mem.Records())
}

type failingStore struct{ err error }

func (f failingStore) AppendLinked(context.Context, auditlog.LinkFunc) (auditlog.Record, error) {
	return auditlog.Record{}, f.err
}

func TestWriter_StoreFailure(t *testing.T) {
	var buf bytes.Buffer
	w := newWriter(failingStore{err: errors.New("connection refused")}, &buf)

	_, err := w.Append(context.Background(), auditlog.Input{ActorID: 1, TargetID: 2, ActionType: "X"})

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auditlog.CodeAppendFailed)
	errutil.AssertErrorContext(t, err, "action_type", "X")
	assert.Contains(t, buf.String(), "audit append failed")
}

func TestWriter_RecordActionOutlivesRequest(t *testing.T) {
	mem := store.NewMemory()
	var buf bytes.Buffer
	w := newWriter(mem, &buf)

	ctx, cancel := context.WithCancel(context.Background())
	err := reqctx.Run(ctx, reqctx.RequestContext{CorrelationID: "corr-7"}, func(ctx context.Context) error {
		w.RecordAction(ctx, 3, 4, "DELETE_USER", json.RawMessage(`{"reason":"spam"}`))
		return nil
	})
	require.NoError(t, err)
	cancel()

	closeCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	require.NoError(t, w.Close(closeCtx))

	records := mem.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "DELETE_USER", records[0].ActionType)
}

func TestWriter_RecordActionSwallowsFailures(t *testing.T) {
	mem := store.NewMemory()
	var buf bytes.Buffer
	w := newWriter(mem, &buf)

	assert.NotPanics(t, func() {
		w.RecordAction(context.Background(), 0, 4, "DELETE_USER", nil)
	})
	require.NoError(t, w.Close(context.Background()))

	assert.Empty(t, mem.Records())
	assert.Contains(t, buf.String(), "audit record rejected")
}

type blockingStore struct{ release chan struct{} }

func (b blockingStore) AppendLinked(ctx context.Context, _ auditlog.LinkFunc) (auditlog.Record, error) {
	<-b.release
	return auditlog.Record{}, errors.New("released")
}

func TestWriter_CloseHonorsDeadline(t *testing.T) {
	bs := blockingStore{release: make(chan struct{})}
	defer close(bs.release)
	var buf bytes.Buffer
	w := newWriter(bs, &buf)

	w.RecordAction(context.Background(), 1, 2, "X", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Close(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
