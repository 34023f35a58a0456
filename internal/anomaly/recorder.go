// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package anomaly

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/holomush/warden/internal/reqctx"
	"github.com/holomush/warden/pkg/errutil"
)

// Enqueuer accepts scored entries for asynchronous persistence.
type Enqueuer interface {
	Enqueue(entry Entry) bool
}

// Recorder scores actions on the request path and hands the resulting
// entries to an Enqueuer. It never blocks on storage and never fails.
type Recorder struct {
	queue  Enqueuer
	scorer Scorer
	logger *slog.Logger
	now    func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithScorer sets the cap and default threshold.
func WithScorer(s Scorer) RecorderOption {
	return func(r *Recorder) {
		r.scorer = s
	}
}

// WithRecorderLogger sets the recorder's logger.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder creates a Recorder that enqueues onto q.
func NewRecorder(q Enqueuer, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		queue:  q,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordOption adjusts a single RecordAnomaly call.
type RecordOption func(*recordOptions)

type recordOptions struct {
	threshold *float64
}

// WithThreshold overrides the threshold for one call. Any value is honored,
// including zero and negative thresholds.
func WithThreshold(threshold float64) RecordOption {
	return func(o *recordOptions) {
		o.threshold = &threshold
	}
}

// RecordAnomaly scores signals, enriches the entry from the request context in
// ctx and enqueues it. The verdict is returned even when the entry cannot be
// queued.
func (r *Recorder) RecordAnomaly(ctx context.Context, signals []Signal, actionName, targetResource string, md Metadata, opts ...RecordOption) (verdict Verdict) {
	var o recordOptions
	for _, opt := range opts {
		opt(&o)
	}
	threshold := r.scorer.threshold()
	if o.threshold != nil {
		threshold = *o.threshold
	}
	total := Score(signals, r.scorer.limit())
	verdict = Verdict{Total: total, Exceeded: total >= threshold}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "anomaly recording panicked",
				"action", actionName,
				"target_resource", targetResource,
				"panic", rec,
			)
		}
	}()

	rc := reqctx.Current(ctx)
	if md.SchemaVersion == "" {
		md.SchemaVersion = MetadataSchemaVersion
	}
	if md.Origin == "" {
		md.Origin = rc.Origin
	}
	if md.Route == "" {
		md.Route = rc.Route
	}
	if md.Agent == "" {
		md.Agent = rc.Agent
	}
	md = clampMetadata(md)

	entry := Entry{
		ActorID:        rc.ActorID,
		CorrelationID:  rc.CorrelationID,
		ActionName:     actionName,
		TargetResource: targetResource,
		Signals:        append([]Signal(nil), signals...),
		TotalScore:     verdict.Total,
		Exceeded:       verdict.Exceeded,
		Metadata:       md,
		CreatedAt:      r.now().UTC(),
	}

	if verdict.Exceeded {
		exceededCounter.WithLabelValues(actionName, targetResource).Inc()
		r.logger.WarnContext(ctx, "anomaly threshold exceeded",
			"action", actionName,
			"target_resource", targetResource,
			"total_score", verdict.Total,
			"threshold", threshold,
			"signals", signalNames(signals),
		)
	}

	if err := ValidateMetadata(md); err != nil {
		errutil.LogErrorContext(ctx, r.logger, slog.LevelWarn, "anomaly metadata rejected, recording core fields only", err,
			"action", actionName,
			"target_resource", targetResource,
		)
		entry.Metadata = fallbackMetadata(md)
		if err := ValidateMetadata(entry.Metadata); err != nil {
			entriesLostCounter.WithLabelValues(lossInvalid).Inc()
			errutil.LogErrorContext(ctx, r.logger, slog.LevelError, "anomaly entry dropped: invalid metadata", err,
				"data_loss", true,
				"action", actionName,
				"target_resource", targetResource,
			)
			return verdict
		}
	}

	r.queue.Enqueue(entry)
	return verdict
}

// Upper bounds of the request-derived metadata fields, in characters.
const (
	maxCursorLen = 256
	maxOriginLen = 64
	maxRouteLen  = 512
	maxAgentLen  = 512
)

// clampMetadata truncates the free-text fields to the lengths the metadata
// schema allows. Client-supplied headers must never make an entry invalid.
func clampMetadata(md Metadata) Metadata {
	md.Cursor = truncateRunes(md.Cursor, maxCursorLen)
	md.Origin = truncateRunes(md.Origin, maxOriginLen)
	md.Route = truncateRunes(md.Route, maxRouteLen)
	md.Agent = truncateRunes(md.Agent, maxAgentLen)
	return md
}

// fallbackMetadata keeps only the fields the recorder itself controls.
func fallbackMetadata(md Metadata) Metadata {
	return clampMetadata(Metadata{
		SchemaVersion: MetadataSchemaVersion,
		Cursor:        strings.ToValidUTF8(md.Cursor, ""),
		OffHours:      md.OffHours,
		Origin:        strings.ToValidUTF8(md.Origin, ""),
		Route:         strings.ToValidUTF8(md.Route, ""),
		Agent:         strings.ToValidUTF8(md.Agent, ""),
	})
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func signalNames(signals []Signal) []string {
	names := make([]string, 0, len(signals))
	for _, s := range signals {
		if s.Score > 0 {
			names = append(names, s.Name)
		}
	}
	return names
}
