// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auditlog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/warden/internal/auditlog"
	"github.com/holomush/warden/internal/store"
	"github.com/holomush/warden/pkg/errutil"
)

// seed appends n records one second apart.
func seed(t *testing.T, mem *store.Memory, n int) {
	t.Helper()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	w := auditlog.NewWriter(mem, auditlog.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	for i := range n {
		_, err := w.Append(context.Background(), auditlog.Input{ActorID: 1, TargetID: int64(i + 1), ActionType: "LOGIN"})
		require.NoError(t, err)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-5, 50},
		{0, 50},
		{1, 1},
		{50, 50},
		{100, 100},
		{101, 100},
		{10_000, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, auditlog.ClampLimit(tt.in), "limit %d", tt.in)
	}
}

func TestParseCursor(t *testing.T) {
	got, err := auditlog.ParseCursor("2026-03-01T10:00:00.5Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 500_000_000, time.UTC), got.UTC())

	got, err = auditlog.ParseCursor("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = auditlog.ParseCursor("yesterday")
	require.Error(t, err)
	assert.True(t, auditlog.IsInvalidCursor(err))
}

func TestReader_Paginates120As50_50_20(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, 120)
	r := auditlog.NewReader(mem)

	var sizes []int
	var ids []int64
	cursor := ""
	for {
		page, err := r.List(context.Background(), 50, cursor)
		require.NoError(t, err)
		sizes = append(sizes, len(page.Records))
		for _, rec := range page.Records {
			ids = append(ids, rec.ID)
		}
		if !page.HasMore {
			assert.NotEmpty(t, page.NextCursor)
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, []int{50, 50, 20}, sizes)
	require.Len(t, ids, 120)
	assert.Equal(t, int64(120), ids[0])
	assert.Equal(t, int64(1), ids[119])
}

func TestReader_NewestFirstWithIDTieBreak(t *testing.T) {
	mem := store.NewMemory()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	w := auditlog.NewWriter(mem, auditlog.WithClock(func() time.Time { return at }))
	for i := range 3 {
		_, err := w.Append(context.Background(), auditlog.Input{ActorID: 1, TargetID: int64(i + 1), ActionType: "LOGIN"})
		require.NoError(t, err)
	}

	page, err := auditlog.NewReader(mem).List(context.Background(), 0, "")
	require.NoError(t, err)

	require.Len(t, page.Records, 3)
	assert.Equal(t, []int64{3, 2, 1}, []int64{page.Records[0].ID, page.Records[1].ID, page.Records[2].ID})
	assert.False(t, page.HasMore)
}

func TestReader_Empty(t *testing.T) {
	page, err := auditlog.NewReader(store.NewMemory()).List(context.Background(), 10, "")
	require.NoError(t, err)

	assert.NotNil(t, page.Records)
	assert.Empty(t, page.Records)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
}

func TestReader_InvalidCursor(t *testing.T) {
	_, err := auditlog.NewReader(store.NewMemory()).List(context.Background(), 10, "not-a-time")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auditlog.CodeInvalidCursor)
}

type brokenPageStore struct{}

func (brokenPageStore) ListBefore(context.Context, *time.Time, int) ([]auditlog.Record, error) {
	return nil, errors.New("timeout")
}

func TestReader_StoreFailure(t *testing.T) {
	_, err := auditlog.NewReader(brokenPageStore{}).List(context.Background(), 10, "")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auditlog.CodeListFailed)
	errutil.AssertErrorContext(t, err, "limit", 10)
}
