// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auditlog

import (
	"context"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Page size bounds.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// PageStore reads records newest first.
type PageStore interface {
	// ListBefore returns up to limit records created strictly before cursor
	// (or the newest records when cursor is nil), ordered by created_at then
	// id, both descending.
	ListBefore(ctx context.Context, cursor *time.Time, limit int) ([]Record, error)
}

// Page is one page of records, newest first.
type Page struct {
	Records    []Record `json:"logs"`
	NextCursor string   `json:"nextCursor,omitempty"`
	HasMore    bool     `json:"hasMore"`
}

// Reader serves cursor-paginated queries over the audit log.
type Reader struct {
	store PageStore
}

// NewReader creates a Reader backed by store.
func NewReader(store PageStore) *Reader {
	return &Reader{store: store}
}

// ClampLimit applies the default for non-positive limits and caps the rest
// to [1, MaxPageSize].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return min(limit, MaxPageSize)
}

// ParseCursor parses an RFC 3339 cursor. An empty cursor yields nil.
func ParseCursor(cursor string) (*time.Time, error) {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, cursor)
	if err != nil {
		return nil, oops.Code(CodeInvalidCursor).
			With("cursor", cursor).
			Wrapf(err, "cursor must be an RFC 3339 timestamp")
	}
	return &t, nil
}

// List returns the page of records strictly older than cursor.
func (r *Reader) List(ctx context.Context, limit int, cursor string) (Page, error) {
	limit = ClampLimit(limit)
	before, err := ParseCursor(cursor)
	if err != nil {
		return Page{}, err
	}

	records, err := r.store.ListBefore(ctx, before, limit)
	if err != nil {
		return Page{}, oops.Code(CodeListFailed).
			With("limit", limit).
			With("cursor", cursor).
			Wrapf(err, "listing audit records")
	}
	if records == nil {
		records = []Record{}
	}

	page := Page{Records: records, HasMore: len(records) == limit}
	if n := len(records); n > 0 {
		page.NextCursor = records[n-1].CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return page, nil
}
