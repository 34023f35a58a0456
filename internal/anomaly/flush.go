// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package anomaly

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/warden/pkg/errutil"
)

var tracer = otel.Tracer("warden/anomaly")

// persist writes one detached batch with bounded exponential backoff, then
// hands it to the replicas. A batch that exhausts its retries is dropped.
func (e *Engine) persist(ctx context.Context, batchID ulid.ULID, batch []Entry) (res FlushResult) {
	start := time.Now()
	res = FlushResult{BatchID: batchID, Size: len(batch)}

	ctx, span := tracer.Start(ctx, "anomaly.flush",
		trace.WithAttributes(
			attribute.String("anomaly.batch_id", batchID.String()),
			attribute.Int("anomaly.batch_size", len(batch)),
		),
	)
	defer func() {
		res.Duration = time.Since(start)
		flushDuration.Observe(res.Duration.Seconds())
		span.SetAttributes(attribute.Int("anomaly.attempts", res.Attempts))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
	}()

	base := retry.WithMaxRetries(uint64(e.cfg.RetryCount), retry.NewExponential(e.cfg.BaseDelay)) //nolint:gosec // RetryCount is clamped to >= 0
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := base.Next()
		if !stop {
			res.Delays = append(res.Delays, d)
		}
		return d, stop
	})

	var lastErr error
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res.Attempts++
		flushAttemptsCounter.Inc()
		if err := e.store.InsertAnomalies(ctx, batch); err != nil {
			lastErr = err
			e.logger.WarnContext(ctx, "anomaly batch write failed",
				"batch_id", batchID.String(),
				"attempt", res.Attempts,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		reason := lossRetriesExhausted
		if e.abortShutdown(len(batch)) {
			reason = lossShutdown
		}
		res.Err = oops.Code("ANOMALY_BATCH_WRITE_FAILED").
			With("batch_id", batchID.String()).
			With("size", len(batch)).
			With("attempts", res.Attempts).
			With("reason", reason).
			Wrapf(lastErr, "anomaly batch dropped after %d attempts", res.Attempts)
		flushesCounter.WithLabelValues("dropped").Inc()
		entriesLostCounter.WithLabelValues(reason).Add(float64(len(batch)))
		e.logger.ErrorContext(ctx, "anomaly batch dropped",
			"data_loss", true,
			"batch_id", batchID.String(),
			"size", len(batch),
			"attempts", res.Attempts,
			"reason", reason,
			"error", res.Err,
		)
		return res
	}

	flushesCounter.WithLabelValues("persisted").Inc()
	e.logger.DebugContext(ctx, "anomaly batch persisted",
		"batch_id", batchID.String(),
		"size", len(batch),
		"attempts", res.Attempts,
	)

	e.replicate(ctx, batchID, batch)
	return res
}

// replicate copies a persisted batch to every replica. Failures are logged
// and counted; the primary write stands.
func (e *Engine) replicate(ctx context.Context, batchID ulid.ULID, batch []Entry) {
	for _, r := range e.replicas {
		if err := r.ReplicateAnomalies(ctx, batchID, batch); err != nil {
			replicationFailuresCounter.WithLabelValues(r.Name()).Inc()
			errutil.LogError(e.logger, "anomaly batch replication failed",
				oops.Code("ANOMALY_REPLICATION_FAILED").
					With("replica", r.Name()).
					With("batch_id", batchID.String()).
					With("size", len(batch)).
					Wrap(err),
			)
		}
	}
}
