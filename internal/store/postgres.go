// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store provides the durable PostgreSQL store, an in-memory store for
// tests and single-process use, and schema migrations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/warden/internal/anomaly"
	"github.com/holomush/warden/internal/auditlog"
)

// chainLockKey is the advisory lock serializing audit chain appends across
// every process sharing the database.
const chainLockKey int64 = 0x7761_7264_656e // "warden"

// poolIface is the subset of pgxpool.Pool the store needs. pgxmock pools
// satisfy it in unit tests.
type poolIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
}

// Postgres implements the audit chain and anomaly batch stores on PostgreSQL.
type Postgres struct {
	pool        poolIface
	logger      *slog.Logger
	forkRetries uint64
	forkBackoff time.Duration
}

// PostgresOption configures a Postgres store.
type PostgresOption func(*Postgres)

// WithForkRetries sets how many times an append that lost a race for the
// chain head is retried, and the base delay between attempts.
func WithForkRetries(n int, base time.Duration) PostgresOption {
	return func(s *Postgres) {
		if n >= 0 {
			s.forkRetries = uint64(n)
		}
		if base > 0 {
			s.forkBackoff = base
		}
	}
}

// WithPostgresLogger sets the store's logger.
func WithPostgresLogger(logger *slog.Logger) PostgresOption {
	return func(s *Postgres) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool poolIface, opts ...PostgresOption) *Postgres {
	s := &Postgres{
		pool:        pool,
		logger:      slog.Default(),
		forkRetries: 5,
		forkBackoff: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a pgx pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.With("operation", "create pool").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.With("operation", "ping database").Wrap(err)
	}
	return pool, nil
}

// Ping reports whether the database is reachable.
func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.With("operation", "ping database").Wrap(err)
	}
	return nil
}

// AppendLinked links and inserts the next audit record. The chain head is
// read under a transaction-scoped advisory lock, and the unique index on
// previous_hash rejects any fork that slips past it; such conflicts are
// retried against the new head.
func (s *Postgres) AppendLinked(ctx context.Context, link auditlog.LinkFunc) (auditlog.Record, error) {
	var rec auditlog.Record
	attempt := 0
	b := retry.WithMaxRetries(s.forkRetries, retry.NewExponential(s.forkBackoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		r, err := s.appendOnce(ctx, link)
		if err != nil {
			if isChainConflict(err) {
				s.logger.WarnContext(ctx, "audit chain head contended, retrying", "attempt", attempt, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return auditlog.Record{}, oops.With("operation", "append audit record").With("attempts", attempt).Wrap(err)
	}
	return rec, nil
}

func (s *Postgres) appendOnce(ctx context.Context, link auditlog.LinkFunc) (auditlog.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return auditlog.Record{}, oops.With("operation", "begin transaction").Wrap(err)
	}
	defer func() {
		_ = tx.Rollback(ctx) //nolint:errcheck // no-op after commit
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
		return auditlog.Record{}, oops.With("operation", "lock audit chain").Wrap(err)
	}

	var prev *string
	var head string
	err = tx.QueryRow(ctx, `SELECT hash FROM audit_log ORDER BY id DESC LIMIT 1`).Scan(&head)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return auditlog.Record{}, oops.With("operation", "read chain head").Wrap(err)
	default:
		prev = &head
	}

	rec, err := link(prev)
	if err != nil {
		return auditlog.Record{}, err
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO audit_log (actor_id, target_id, action_type, detail, previous_hash, hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		rec.ActorID, rec.TargetID, rec.ActionType, jsonArg(rec.Detail), rec.PreviousHash, rec.Hash, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return auditlog.Record{}, oops.With("operation", "insert audit record").Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return auditlog.Record{}, oops.With("operation", "commit audit record").Wrap(err)
	}
	return rec, nil
}

const auditColumns = `id, actor_id, target_id, action_type, detail, previous_hash, hash, created_at`

// ListBefore returns records created strictly before cursor, newest first.
func (s *Postgres) ListBefore(ctx context.Context, cursor *time.Time, limit int) ([]auditlog.Record, error) {
	var rows pgx.Rows
	var err error
	if cursor == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+auditColumns+` FROM audit_log ORDER BY created_at DESC, id DESC LIMIT $1`,
			limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+auditColumns+` FROM audit_log WHERE created_at < $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
			*cursor, limit)
	}
	if err != nil {
		return nil, oops.With("operation", "list audit records").Wrap(err)
	}
	return scanRecords(rows)
}

// ListAscending returns up to limit records with id greater than afterID in
// chain order.
func (s *Postgres) ListAscending(ctx context.Context, afterID int64, limit int) ([]auditlog.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE id > $1 ORDER BY id ASC LIMIT $2`,
		afterID, limit)
	if err != nil {
		return nil, oops.With("operation", "scan audit chain").With("after_id", afterID).Wrap(err)
	}
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]auditlog.Record, error) {
	defer rows.Close()

	records := []auditlog.Record{}
	for rows.Next() {
		var r auditlog.Record
		var detail []byte
		if err := rows.Scan(&r.ID, &r.ActorID, &r.TargetID, &r.ActionType, &detail, &r.PreviousHash, &r.Hash, &r.CreatedAt); err != nil {
			return nil, oops.With("operation", "scan audit record").Wrap(err)
		}
		if len(detail) > 0 {
			r.Detail = json.RawMessage(detail)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate audit records").Wrap(err)
	}
	return records, nil
}

var anomalyColumns = []string{
	"actor_id", "correlation_id", "action_name", "target_resource", "signals",
	"total_score", "exceeded", "metadata", "batch_id", "created_at",
}

// InsertAnomalies writes a batch with a single COPY, which either stores
// every row or none.
func (s *Postgres) InsertAnomalies(ctx context.Context, entries []anomaly.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		signals, err := json.Marshal(e.Signals)
		if err != nil {
			return oops.With("operation", "encode anomaly signals").Wrap(err)
		}
		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return oops.With("operation", "encode anomaly metadata").Wrap(err)
		}
		var correlationID any
		if e.CorrelationID != "" {
			correlationID = e.CorrelationID
		}
		rows = append(rows, []any{
			e.ActorID, correlationID, e.ActionName, e.TargetResource, string(signals),
			e.TotalScore, e.Exceeded, string(metadata), e.BatchID.String(), e.CreatedAt,
		})
	}

	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"anomaly_log"}, anomalyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return oops.With("operation", "insert anomaly batch").With("size", len(entries)).Wrap(err)
	}
	if n != int64(len(entries)) {
		return oops.With("operation", "insert anomaly batch").
			With("size", len(entries)).
			With("inserted", n).
			Errorf("short anomaly batch insert")
	}
	return nil
}

// jsonArg maps an empty document to SQL NULL.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// isChainConflict reports whether err means another writer linked to the
// same chain head first.
func isChainConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation, pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return true
	}
	return false
}
