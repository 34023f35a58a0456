// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/holomush/warden/internal/anomaly"
	"github.com/holomush/warden/internal/config"
	"github.com/holomush/warden/internal/observability"
	"github.com/holomush/warden/internal/replica"
	"github.com/holomush/warden/internal/store"
)

// DatabasePool is the part of pgxpool.Pool the commands use.
type DatabasePool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// ObservabilityServer is the interface of the metrics and health server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
}

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// PoolFactory opens and pings a database pool.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, dsn string) (DatabasePool, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr, version string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// RedisClientFactory creates the client behind the Redis replica.
	// Default: redis.NewClient
	RedisClientFactory func(cfg config.RedisConfig) *redis.Client

	// S3ReplicaFactory creates the object storage replica.
	// Default: replica.NewS3
	S3ReplicaFactory func(cfg replica.S3Config) (anomaly.Replica, error)

	// MigratorFactory opens the schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = func(ctx context.Context, dsn string) (DatabasePool, error) {
			return store.Connect(ctx, dsn)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr, version string, checker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, version, checker)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	if out.RedisClientFactory == nil {
		out.RedisClientFactory = func(cfg config.RedisConfig) *redis.Client {
			return redis.NewClient(&redis.Options{
				Addr:     cfg.Addr,
				Password: cfg.Password,
				DB:       cfg.DB,
			})
		}
	}
	if out.S3ReplicaFactory == nil {
		out.S3ReplicaFactory = func(cfg replica.S3Config) (anomaly.Replica, error) {
			return replica.NewS3(cfg)
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	return &out
}
