// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package api serves the administrative HTTP surface.
//
// Requests to /admin/audit-logs pass through, in order: bearer token
// authentication, request context binding, the role check, and anomaly
// scoring. Only then does the handler read the audit log.
package api
