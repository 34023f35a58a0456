// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/holomush/warden/internal/auditlog"
	"github.com/holomush/warden/pkg/errutil"
)

// AuditLister pages through the audit log.
type AuditLister interface {
	List(ctx context.Context, limit int, cursor string) (auditlog.Page, error)
}

type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Message: message})
}

// AuditLogs handles GET /admin/audit-logs?limit&cursor.
func AuditLogs(lister AuditLister, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		// Non-numeric limits fall back to the default page size.
		limit, _ := strconv.Atoi(q.Get("limit")) //nolint:errcheck // zero selects the default
		cursor := q.Get("cursor")

		logger.InfoContext(r.Context(), "audit log fetch requested", "limit", limit, "cursor", cursor)

		page, err := lister.List(r.Context(), limit, cursor)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, page)
		case auditlog.IsInvalidCursor(err):
			writeError(w, http.StatusBadRequest, "Invalid cursor format. Must be an RFC 3339 timestamp.")
		default:
			errutil.LogErrorContext(r.Context(), logger, slog.LevelError, "audit log fetch failed", err)
			writeError(w, http.StatusInternalServerError, "Internal server error while fetching logs.")
		}
	}
}
