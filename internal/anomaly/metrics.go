// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package anomaly

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_anomaly_queue_depth",
		Help: "Number of anomaly entries waiting to be flushed",
	})

	flushesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_anomaly_flushes_total",
		Help: "Total number of anomaly batch flushes by result",
	}, []string{"result"})

	flushAttemptsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_anomaly_flush_attempts_total",
		Help: "Total number of anomaly batch write attempts, including retries",
	})

	flushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "warden_anomaly_flush_duration_seconds",
		Help:    "Time from batch detach to final outcome, including retry delays",
		Buckets: prometheus.DefBuckets,
	})

	entriesLostCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_anomaly_entries_lost_total",
		Help: "Total number of anomaly entries dropped without being persisted",
	}, []string{"reason"})

	replicationFailuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_anomaly_replication_failures_total",
		Help: "Total number of failed anomaly batch replications",
	}, []string{"replica"})

	exceededCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_anomaly_threshold_exceeded_total",
		Help: "Total number of scored actions that met or exceeded their threshold",
	}, []string{"action", "target"})
)

// Loss reasons.
const (
	lossRetriesExhausted = "retries_exhausted"
	lossShutdown         = "shutdown"
	lossClosed           = "closed"
	lossInvalid          = "invalid"
)
