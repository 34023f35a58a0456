// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/holomush/warden/internal/anomaly"
	"github.com/holomush/warden/internal/reqctx"
	"github.com/holomush/warden/pkg/errutil"
)

// AdminRoles may read the audit log.
var AdminRoles = []string{"admin", "security", "super_admin"}

// Authenticate rejects requests without a valid principal with 401. An
// accepted principal is also attributed to the bound request context.
func Authenticate(auth Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := auth.Authenticate(r)
			if err != nil {
				errutil.LogErrorContext(r.Context(), logger, slog.LevelWarn, "request not authenticated", err,
					"route", r.URL.Path)
				message := "Authentication required."
				if errutil.HasCode(err, CodeTokenExpired) {
					message = "Token expired."
				}
				writeError(w, http.StatusUnauthorized, message)
				return
			}
			ctx := WithPrincipal(r.Context(), p)
			if reqctx.Active(ctx) {
				ctx = reqctx.With(ctx, reqctx.Current(ctx).WithActor(p.ActorID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects principals whose role is not listed with 403.
func RequireRole(logger *slog.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFrom(r.Context())
			if !slices.Contains(roles, p.Role) {
				logger.WarnContext(r.Context(), "admin log access denied",
					"actor_id", p.ActorID,
					"role", p.Role,
				)
				writeError(w, http.StatusForbidden, "Forbidden: insufficient permissions to view audit logs.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AnomalyRecorder scores and records a request's signals.
type AnomalyRecorder interface {
	RecordAnomaly(ctx context.Context, signals []anomaly.Signal, actionName, targetResource string,
		md anomaly.Metadata, opts ...anomaly.RecordOption) anomaly.Verdict
}

// ScoreAnomaly scores every request before the handler runs. Scoring never
// blocks or fails the request.
func ScoreAnomaly(rec AnomalyRecorder, catalog anomaly.Catalog, now func() time.Time,
	actionName, targetResource string, threshold float64,
) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cursor := r.URL.Query().Get("cursor")
			offHours := anomaly.IsOffHours(now())
			signals := []anomaly.Signal{
				catalog.AdminEndpointSignal(),
				catalog.NonStandardCursorSignal(cursor),
				catalog.OffHoursSignal(offHours),
			}
			rec.RecordAnomaly(r.Context(), signals, actionName, targetResource,
				anomaly.Metadata{Cursor: truncate(cursor, 256), OffHours: offHours},
				anomaly.WithThreshold(threshold))
			next.ServeHTTP(w, r)
		})
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
