// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// BatchStore persists a batch of entries in one durable operation.
type BatchStore interface {
	InsertAnomalies(ctx context.Context, entries []Entry) error
}

// Replica receives a copy of every batch the primary store accepted.
// Implementations must tolerate the same batch being delivered twice.
type Replica interface {
	Name() string
	ReplicateAnomalies(ctx context.Context, batchID ulid.ULID, entries []Entry) error
}

// Config controls batching and retry behavior.
type Config struct {
	BatchSize     int           // Entries per flush; reaching it flushes immediately
	FlushInterval time.Duration // Maximum time an entry waits for a size-triggered flush
	RetryCount    int           // Additional attempts after the first failed write
	BaseDelay     time.Duration // Delay before retry n is BaseDelay * 2^n
}

// DefaultConfig returns the default batching configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     50,
		FlushInterval: time.Second,
		RetryCount:    3,
		BaseDelay:     100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	return c
}

// FlushResult describes the outcome of one flush.
type FlushResult struct {
	BatchID  ulid.ULID
	Size     int
	Attempts int
	Delays   []time.Duration
	Duration time.Duration
	Err      error
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig overrides the default batching configuration. Zero fields keep
// their defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg.withDefaults()
	}
}

// WithReplicas sets the secondary stores that receive persisted batches.
func WithReplicas(replicas ...Replica) Option {
	return func(e *Engine) {
		e.replicas = append(e.replicas, replicas...)
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithOnFlush registers fn to be called after every non-empty flush.
func WithOnFlush(fn func(FlushResult)) Option {
	return func(e *Engine) {
		e.onFlush = fn
	}
}

// Engine owns the anomaly queue, its flush timer and the background flush
// tasks. Create one per process and share it by reference.
type Engine struct {
	cfg      Config
	store    BatchStore
	replicas []Replica
	logger   *slog.Logger
	onFlush  func(FlushResult)

	mu       sync.Mutex
	queue    []Entry
	timer    *time.Timer
	timerGen uint64
	closed   bool
	aborted  int // entries of in-flight batches cut off by Close

	// ctx bounds every flush; Close cancels it when the grace period ends.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an Engine writing to store.
func NewEngine(store BatchStore, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:    DefaultConfig(),
		store:  store,
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Len returns the number of queued entries.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Enqueue appends entry to the queue without blocking on storage. It returns
// false if the engine is closed and the entry was dropped.
func (e *Engine) Enqueue(entry Entry) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		entriesLostCounter.WithLabelValues(lossClosed).Inc()
		e.logger.Error("anomaly entry dropped: engine closed",
			"data_loss", true,
			"action", entry.ActionName,
			"target_resource", entry.TargetResource,
			"correlation_id", entry.CorrelationID,
		)
		return false
	}

	e.queue = append(e.queue, entry)
	queueDepthGauge.Inc()

	if len(e.queue) >= e.cfg.BatchSize {
		e.stopTimerLocked()
		e.spawnFlushLocked("size")
	} else if e.timer == nil {
		e.armTimerLocked()
	}
	e.mu.Unlock()
	return true
}

// Flush detaches up to BatchSize entries and persists them. The detach
// happens before any I/O, so concurrent calls never see the same entry.
func (e *Engine) Flush(ctx context.Context) (FlushResult, error) {
	batch := e.detach()
	if len(batch) == 0 {
		return FlushResult{}, nil
	}

	id := ulid.Make()
	for i := range batch {
		batch[i].BatchID = id
	}

	res := e.persist(ctx, id, batch)
	if e.onFlush != nil {
		e.onFlush(res)
	}
	return res, res.Err
}

// Close stops intake, waits for in-flight flushes and drains the remaining
// entries. ctx bounds the whole shutdown. When it ends, in-flight writes are
// cancelled; their entries and any still queued are logged as lost and an
// ANOMALY_SHUTDOWN_LOSS error is returned.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopTimerLocked()
	e.mu.Unlock()

	stop := context.AfterFunc(ctx, e.cancel)
	defer stop()

	inflight := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(inflight)
	}()
	select {
	case <-inflight:
	case <-ctx.Done():
	}

	for ctx.Err() == nil {
		res, _ := e.Flush(e.ctx) //nolint:errcheck // failures are logged by persist
		if res.Size == 0 {
			break
		}
	}

	e.cancel()
	<-inflight

	lost := e.discardRemaining() + e.abortedEntries()
	if lost > 0 {
		e.logger.Error("anomaly entries lost at shutdown",
			"data_loss", true,
			"count", lost,
			"reason", fmt.Sprint(ctx.Err()),
		)
		return oops.Code("ANOMALY_SHUTDOWN_LOSS").
			With("lost", lost).
			Errorf("shutdown grace period expired with %d unflushed anomaly entries", lost)
	}
	return nil
}

// detach removes up to BatchSize entries from the head of the queue and
// re-arms the triggers for whatever is left.
func (e *Engine) detach() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := min(len(e.queue), e.cfg.BatchSize)
	if n == 0 {
		return nil
	}
	batch := make([]Entry, n)
	copy(batch, e.queue[:n])
	e.queue = append([]Entry(nil), e.queue[n:]...)
	queueDepthGauge.Sub(float64(n))

	if e.closed {
		return batch
	}
	switch {
	case len(e.queue) >= e.cfg.BatchSize:
		e.stopTimerLocked()
		e.spawnFlushLocked("size")
	case len(e.queue) > 0 && e.timer == nil:
		e.armTimerLocked()
	}
	return batch
}

// discardRemaining empties the queue and counts the entries as lost to
// shutdown.
func (e *Engine) discardRemaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.queue)
	e.queue = nil
	queueDepthGauge.Sub(float64(n))
	if n > 0 {
		entriesLostCounter.WithLabelValues(lossShutdown).Add(float64(n))
	}
	return n
}

// abortShutdown reports whether Close has cut off in-flight work. If so the
// batch is accounted to the shutdown loss.
func (e *Engine) abortShutdown(size int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed || e.ctx.Err() == nil {
		return false
	}
	e.aborted += size
	return true
}

func (e *Engine) abortedEntries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

// armTimerLocked arms the interval timer. The generation guards against a
// timer that fired while being stopped clearing its replacement.
func (e *Engine) armTimerLocked() {
	e.timerGen++
	gen := e.timerGen
	e.timer = time.AfterFunc(e.cfg.FlushInterval, func() {
		e.mu.Lock()
		if gen != e.timerGen || e.closed {
			e.mu.Unlock()
			return
		}
		e.timer = nil
		e.spawnFlushLocked("interval")
		e.mu.Unlock()
	})
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerGen++
}

// spawnFlushLocked starts a supervised flush task. The WaitGroup is
// incremented under the lock so Close cannot miss it.
func (e *Engine) spawnFlushLocked(trigger string) {
	e.wg.Add(1)
	go e.flushTask(trigger)
}

func (e *Engine) flushTask(trigger string) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("anomaly flush task panicked", "trigger", trigger, "panic", r)
		}
	}()

	res, err := e.Flush(e.ctx)
	if err == nil && res.Size > 0 {
		e.logger.Debug("anomaly flush completed", "trigger", trigger, "batch_id", res.BatchID.String(), "size", res.Size)
	}
}
