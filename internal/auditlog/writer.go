// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auditlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/warden/internal/reqctx"
	"github.com/holomush/warden/pkg/errutil"
)

var tracer = otel.Tracer("warden/auditlog")

// LinkFunc builds the next record given the hash of the current chain head,
// or nil when the chain is empty.
type LinkFunc func(previousHash *string) (Record, error)

// ChainStore persists hash-linked records. AppendLinked must read the chain
// head, call link and insert its result as one indivisible step with respect
// to every other AppendLinked call on the same chain, in this process or any
// other. It returns the record as stored, with its ID.
type ChainStore interface {
	AppendLinked(ctx context.Context, link LinkFunc) (Record, error)
}

// Writer appends validated records to the hash chain.
type Writer struct {
	store  ChainStore
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithLogger sets the writer's logger.
func WithLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWriter creates a Writer backed by store.
func NewWriter(store ChainStore, opts ...WriterOption) *Writer {
	w := &Writer{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Append validates in and links it to the head of the chain. Invalid input
// is logged and returned as an AUDIT_VALIDATION_FAILED error; nothing is
// written.
func (w *Writer) Append(ctx context.Context, in Input) (rec Record, err error) {
	if err := in.Validate(); err != nil {
		appendsCounter.WithLabelValues("invalid").Inc()
		errutil.LogErrorContext(ctx, w.logger, slog.LevelError, "audit record rejected", err,
			"actor_id", in.ActorID,
			"target_id", in.TargetID,
			"action_type", in.ActionType,
		)
		return Record{}, err
	}
	detail, err := CanonicalDetail(in.Detail)
	if err != nil {
		appendsCounter.WithLabelValues("invalid").Inc()
		errutil.LogErrorContext(ctx, w.logger, slog.LevelError, "audit record rejected", err,
			"action_type", in.ActionType)
		return Record{}, err
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "auditlog.append",
		trace.WithAttributes(
			attribute.String("audit.action_type", in.ActionType),
			attribute.Int64("audit.actor_id", in.ActorID),
		),
	)
	defer func() {
		appendDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	rec, err = w.store.AppendLinked(ctx, func(prev *string) (Record, error) {
		r := Record{
			ActorID:      in.ActorID,
			TargetID:     in.TargetID,
			ActionType:   in.ActionType,
			Detail:       detail,
			PreviousHash: prev,
			CreatedAt:    Timestamp(w.now()),
		}
		h, err := Hash(r)
		if err != nil {
			return Record{}, err
		}
		r.Hash = h
		return r, nil
	})
	if err != nil {
		appendsCounter.WithLabelValues("failed").Inc()
		err = oops.Code(CodeAppendFailed).
			With("actor_id", in.ActorID).
			With("target_id", in.TargetID).
			With("action_type", in.ActionType).
			Wrapf(err, "appending audit record")
		errutil.LogErrorContext(ctx, w.logger, slog.LevelError, "audit append failed", err)
		return Record{}, err
	}

	appendsCounter.WithLabelValues("appended").Inc()
	span.SetAttributes(attribute.Int64("audit.record_id", rec.ID))
	w.logger.InfoContext(ctx, "audit record appended",
		"record_id", rec.ID,
		"actor_id", rec.ActorID,
		"target_id", rec.TargetID,
		"action_type", rec.ActionType,
	)
	return rec, nil
}

// RecordAction appends a record in the background. The caller's request
// context is carried over but its cancellation is not. Failures are logged
// and never reach the caller; Close waits for pending appends.
func (w *Writer) RecordAction(ctx context.Context, actorID, targetID int64, actionType string, detail json.RawMessage) {
	if ctx == nil {
		ctx = context.Background()
	}
	bg := reqctx.Detach(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger.ErrorContext(bg, "audit record action panicked",
					"action_type", actionType,
					"panic", r,
				)
			}
		}()

		// Append logs its own failures with full context.
		_, _ = w.Append(bg, Input{ //nolint:errcheck // fire-and-forget
			ActorID:    actorID,
			TargetID:   targetID,
			ActionType: actionType,
			Detail:     detail,
		})
	}()
}

// Close waits for background appends started by RecordAction, or until ctx
// is done.
func (w *Writer) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.Code(CodeAppendFailed).Wrapf(ctx.Err(), "waiting for pending audit appends")
	}
}
