// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package reqctx

import (
	"net"
	"net/http"
	"strings"
)

// HTTP headers used to carry the correlation id.
const (
	CorrelationIDHeader = "X-Correlation-Id"
	RequestIDHeader     = "X-Request-ID"
)

// ActorFunc resolves the authenticated actor of a request, if any.
type ActorFunc func(r *http.Request) (int64, bool)

// Middleware binds a RequestContext built from the incoming request to the
// request's context for the rest of the handler chain.
func Middleware(actor ActorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := FromRequest(r)
			if actor != nil {
				if id, ok := actor(r); ok {
					rc = rc.WithActor(id)
				}
			}
			ctx := With(r.Context(), rc)
			w.Header().Set(CorrelationIDHeader, Current(ctx).CorrelationID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromRequest extracts request metadata. The correlation id is left empty
// when the client did not send one; With generates it.
func FromRequest(r *http.Request) RequestContext {
	corrID := strings.TrimSpace(r.Header.Get(CorrelationIDHeader))
	if corrID == "" {
		corrID = strings.TrimSpace(r.Header.Get(RequestIDHeader))
	}
	return RequestContext{
		CorrelationID: corrID,
		Origin:        ClientIP(r),
		Route:         r.URL.Path,
		Agent:         r.UserAgent(),
	}
}

// ClientIP returns the client address, preferring the first X-Forwarded-For
// hop, then X-Real-IP, then RemoteAddr. Ports are stripped.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := stripPort(strings.TrimSpace(first)); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return stripPort(xri)
	}
	return stripPort(r.RemoteAddr)
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
