// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package anomaly scores risk signals on the request path and persists the
// scored entries asynchronously in batches.
//
// # Overview
//
// Scoring is a pure function (Score, ScoreWithThreshold, Scorer) and is safe
// to call synchronously from any handler. The Recorder enriches the verdict
// with the ambient request context and hands the entry to an Engine, which
// owns the in-memory queue, the flush timer and the background flush tasks.
//
// # Batching
//
//	Enqueue → len(queue) >= BatchSize → flush now (timer cancelled)
//	        → otherwise arm timer (FlushInterval) if not armed → flush on expiry
//
// A flush detaches up to BatchSize entries from the head of the queue before
// doing any I/O, so concurrent flushes always work on disjoint batches and
// Enqueue never waits on storage.
//
// # Retry and loss
//
// A batch is written in one durable operation. Failures are retried up to
// RetryCount more times with delay BaseDelay * 2^attempt. When every attempt
// fails the batch is dropped and logged at ERROR with data_loss=true; failed
// batches are never re-enqueued.
// Successful batches are copied to each configured Replica; replica failures
// are logged and never affect the primary write.
//
// # Shutdown
//
// Close stops intake, waits for in-flight flushes and drains the queue within
// the caller's deadline. Entries still queued when the deadline passes are
// logged as lost.
//
// # Metrics
//
//   - warden_anomaly_queue_depth: entries waiting to be flushed
//   - warden_anomaly_flushes_total{result}: completed flushes by outcome
//   - warden_anomaly_entries_lost_total{reason}: entries dropped without persistence
//   - warden_anomaly_replication_failures_total{replica}: failed replica writes
package anomaly
