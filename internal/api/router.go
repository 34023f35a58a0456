// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/holomush/warden/internal/anomaly"
	"github.com/holomush/warden/internal/reqctx"
)

// AuditLogsRoute is the administrative audit log listing.
const AuditLogsRoute = "/admin/audit-logs"

// AdminThreshold is the anomaly threshold applied to administrative reads.
const AdminThreshold = 40

var requestsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_http_requests_total",
	Help: "Total number of HTTP requests by route and status code",
}, []string{"route", "code"})

// Deps are the collaborators the router needs.
type Deps struct {
	Auth     Authenticator
	Audit    AuditLister
	Recorder AnomalyRecorder
	Catalog  anomaly.Catalog
	Logger   *slog.Logger
	// Now is the clock used for off-hours detection. Defaults to time.Now.
	Now func() time.Time
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(countRequests)

	r.Group(func(r chi.Router) {
		r.Use(reqctx.Middleware(nil))
		r.Use(Authenticate(d.Auth, logger))
		r.Use(RequireRole(logger, AdminRoles...))
		r.Use(ScoreAnomaly(d.Recorder, d.Catalog, d.Now, "FETCH", "audit_log", AdminThreshold))
		r.Get(AuditLogsRoute, AuditLogs(d.Audit, logger))
	})
	return r
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		requestsCounter.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}
