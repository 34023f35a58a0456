// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/warden/internal/anomaly"
	"github.com/holomush/warden/internal/auditlog"
)

// Memory keeps records in process memory. The chain mutex is held across
// the whole read-link-insert step, which serializes appends within one
// process only.
type Memory struct {
	mu        sync.Mutex
	records   []auditlog.Record
	anomalies []anomaly.Entry
	nextID    int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

// AppendLinked links and stores the next audit record.
func (m *Memory) AppendLinked(ctx context.Context, link auditlog.LinkFunc) (auditlog.Record, error) {
	if err := ctx.Err(); err != nil {
		return auditlog.Record{}, oops.With("operation", "append audit record").Wrap(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var prev *string
	if n := len(m.records); n > 0 {
		h := m.records[n-1].Hash
		prev = &h
	}

	rec, err := link(prev)
	if err != nil {
		return auditlog.Record{}, err
	}
	for _, r := range m.records {
		if r.Hash == rec.Hash {
			return auditlog.Record{}, oops.With("operation", "append audit record").
				With("hash", rec.Hash).
				Errorf("duplicate audit hash")
		}
	}

	rec.ID = m.nextID
	m.nextID++
	m.records = append(m.records, rec)
	return rec, nil
}

// ListBefore returns records created strictly before cursor, newest first.
func (m *Memory) ListBefore(_ context.Context, cursor *time.Time, limit int) ([]auditlog.Record, error) {
	m.mu.Lock()
	sorted := slices.Clone(m.records)
	m.mu.Unlock()

	slices.SortFunc(sorted, func(a, b auditlog.Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	out := []auditlog.Record{}
	for _, r := range sorted {
		if cursor != nil && !r.CreatedAt.Before(*cursor) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListAscending returns up to limit records with id greater than afterID.
func (m *Memory) ListAscending(_ context.Context, afterID int64, limit int) ([]auditlog.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []auditlog.Record{}
	for _, r := range m.records {
		if r.ID <= afterID {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// InsertAnomalies stores a batch.
func (m *Memory) InsertAnomalies(ctx context.Context, entries []anomaly.Entry) error {
	if err := ctx.Err(); err != nil {
		return oops.With("operation", "insert anomaly batch").Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomalies = append(m.anomalies, entries...)
	return nil
}

// Anomalies returns a copy of every stored anomaly entry.
func (m *Memory) Anomalies() []anomaly.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.anomalies)
}

// Records returns a copy of the audit chain in append order.
func (m *Memory) Records() []auditlog.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records)
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }
