// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auditlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appendsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_audit_appends_total",
		Help: "Total number of audit chain appends by result",
	}, []string{"result"})

	appendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "warden_audit_append_duration_seconds",
		Help:    "Duration of audit chain appends",
		Buckets: prometheus.DefBuckets,
	})

	chainBreaksCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_audit_chain_breaks_total",
		Help: "Total number of hash chain integrity failures detected by verification",
	})

	recordsVerifiedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_audit_records_verified_total",
		Help: "Total number of audit records checked by verification",
	})
)
