// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package reqctx carries per-request metadata (actor, correlation id, origin,
// route, user agent) through a context.Context so code far from the request
// entry point can enrich audit and anomaly records without extra parameters.
//
// Values are stored in the immutable context tree: concurrent requests each
// hold their own derived context and can never observe one another's data.
package reqctx

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// RequestContext is the ambient metadata of one request or task.
type RequestContext struct {
	ActorID       *int64
	CorrelationID string
	Origin        string
	Route         string
	Agent         string
}

type requestContextKey struct{}

// NewCorrelationID returns a fresh correlation id.
func NewCorrelationID() string {
	return ulid.Make().String()
}

// With returns a child of ctx carrying rc. A missing correlation id is generated.
func With(ctx context.Context, rc RequestContext) context.Context {
	if rc.CorrelationID == "" {
		rc.CorrelationID = NewCorrelationID()
	}
	if rc.ActorID != nil {
		id := *rc.ActorID
		rc.ActorID = &id
	}
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// Run executes fn with rc bound to the context it receives. Everything fn
// calls with that context, including goroutines it starts, sees rc via Current.
func Run(ctx context.Context, rc RequestContext, fn func(ctx context.Context) error) error {
	return fn(With(ctx, rc))
}

// Current returns the request context bound to ctx, or the zero value when
// none is active.
func Current(ctx context.Context) RequestContext {
	if ctx == nil {
		return RequestContext{}
	}
	rc, ok := ctx.Value(requestContextKey{}).(RequestContext)
	if !ok {
		return RequestContext{}
	}
	if rc.ActorID != nil {
		id := *rc.ActorID
		rc.ActorID = &id
	}
	return rc
}

// Active reports whether ctx carries a request context.
func Active(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	_, ok := ctx.Value(requestContextKey{}).(RequestContext)
	return ok
}

// Detach returns a context that keeps ctx's values, including the request
// context, but is not cancelled when the request finishes.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// WithActor returns a copy of rc attributed to actorID.
func (rc RequestContext) WithActor(actorID int64) RequestContext {
	rc.ActorID = &actorID
	return rc
}
