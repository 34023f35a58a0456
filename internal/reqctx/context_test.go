// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package reqctx

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrent_NoActiveContextReturnsZero(t *testing.T) {
	rc := Current(context.Background())

	assert.Equal(t, RequestContext{}, rc)
	assert.False(t, Active(context.Background()))
}

func TestCurrent_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is exactly what is under test
	assert.Equal(t, RequestContext{}, Current(nil))
}

func TestRun_GeneratesCorrelationID(t *testing.T) {
	err := Run(context.Background(), RequestContext{Route: "/admin/audit-logs"}, func(ctx context.Context) error {
		rc := Current(ctx)
		assert.NotEmpty(t, rc.CorrelationID)
		assert.Equal(t, "/admin/audit-logs", rc.Route)
		assert.True(t, Active(ctx))
		return nil
	})
	require.NoError(t, err)
}

func TestRun_KeepsProvidedCorrelationID(t *testing.T) {
	err := Run(context.Background(), RequestContext{CorrelationID: "corr-1"}, func(ctx context.Context) error {
		assert.Equal(t, "corr-1", Current(ctx).CorrelationID)
		return nil
	})
	require.NoError(t, err)
}

func TestRun_PropagatesErrorFromFn(t *testing.T) {
	err := Run(context.Background(), RequestContext{}, func(context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRun_VisibleAcrossGoroutines(t *testing.T) {
	actor := int64(7)
	done := make(chan RequestContext, 1)

	_ = Run(context.Background(), RequestContext{ActorID: &actor, CorrelationID: "c"}, func(ctx context.Context) error {
		go func() {
			time.Sleep(5 * time.Millisecond)
			done <- Current(ctx)
		}()
		return nil
	})

	rc := <-done
	require.NotNil(t, rc.ActorID)
	assert.Equal(t, int64(7), *rc.ActorID)
	assert.Equal(t, "c", rc.CorrelationID)
}

func TestRun_ConcurrentRequestsAreIsolated(t *testing.T) {
	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := int64(i + 1)
			want := fmt.Sprintf("corr-%d", i)
			_ = Run(context.Background(), RequestContext{ActorID: &actor, CorrelationID: want}, func(ctx context.Context) error {
				// Yield repeatedly so requests interleave on the scheduler.
				for j := 0; j < 10; j++ {
					time.Sleep(time.Millisecond)
					got := Current(ctx)
					if got.CorrelationID != want || got.ActorID == nil || *got.ActorID != actor {
						errs <- fmt.Errorf("request %d observed %+v", i, got)
						return nil
					}
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestCurrent_ReturnsCopyOfActor(t *testing.T) {
	actor := int64(3)
	ctx := With(context.Background(), RequestContext{ActorID: &actor})

	rc := Current(ctx)
	*rc.ActorID = 99
	actor = 42

	assert.Equal(t, int64(3), *Current(ctx).ActorID)
}

func TestDetach_KeepsValuesDropsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(With(context.Background(), RequestContext{CorrelationID: "keep"}))
	detached := Detach(ctx)
	cancel()

	assert.Error(t, ctx.Err())
	assert.NoError(t, detached.Err())
	assert.Equal(t, "keep", Current(detached).CorrelationID)
}
