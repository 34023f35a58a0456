// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package replica

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/warden/internal/anomaly"
)

// Redis defaults.
const (
	DefaultStream    = "warden:anomalies"
	DefaultMarkerTTL = 24 * time.Hour
	DefaultMaxLen    = 100_000
)

// redisClient is the subset of redis.Cmdable the replica uses.
type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis appends each anomaly entry to a Redis stream. A per-batch marker key
// set with SETNX makes redelivery of a batch a no-op while the marker lives.
// The entries of a batch are added in one MULTI/EXEC transaction, so a batch
// is either fully on the stream or not at all.
type Redis struct {
	client    redisClient
	stream    string
	markerTTL time.Duration
	maxLen    int64
}

// RedisOption configures a Redis replica.
type RedisOption func(*Redis)

// WithStream sets the stream key.
func WithStream(stream string) RedisOption {
	return func(r *Redis) {
		if stream != "" {
			r.stream = stream
		}
	}
}

// WithMarkerTTL sets how long a batch marker is kept.
func WithMarkerTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.markerTTL = ttl
		}
	}
}

// WithMaxLen caps the stream length (approximate trimming).
func WithMaxLen(n int64) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.maxLen = n
		}
	}
}

// NewRedis creates a Redis replica on an existing client.
func NewRedis(client redisClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:    client,
		stream:    DefaultStream,
		markerTTL: DefaultMarkerTTL,
		maxLen:    DefaultMaxLen,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name identifies the replica in logs and metrics.
func (r *Redis) Name() string { return "redis" }

func (r *Redis) markerKey(batchID ulid.ULID) string {
	return r.stream + ":batch:" + batchID.String()
}

// ReplicateAnomalies adds every entry of the batch to the stream.
func (r *Redis) ReplicateAnomalies(ctx context.Context, batchID ulid.ULID, entries []anomaly.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	payloads := make([]string, len(entries))
	for i, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return oops.With("operation", "encode anomaly entry").With("index", i).Wrap(err)
		}
		payloads[i] = string(payload)
	}

	marker := r.markerKey(batchID)
	fresh, err := r.client.SetNX(ctx, marker, len(entries), r.markerTTL).Result()
	if err != nil {
		return oops.With("operation", "claim batch marker").With("batch_id", batchID.String()).Wrap(err)
	}
	if !fresh {
		return nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, payload := range payloads {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: r.stream,
				MaxLen: r.maxLen,
				Approx: true,
				Values: map[string]any{
					"batch_id": batchID.String(),
					"entry":    payload,
				},
			})
		}
		return nil
	})
	if err != nil {
		r.release(marker)
		return oops.With("operation", "append to stream").
			With("stream", r.stream).
			With("batch_id", batchID.String()).
			With("size", len(entries)).
			Wrap(err)
	}
	return nil
}

// release drops the marker so a later delivery of the same batch is not
// skipped after a failed transaction.
func (r *Redis) release(marker string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = r.client.Del(ctx, marker).Err() //nolint:errcheck // marker expires on its own
}
