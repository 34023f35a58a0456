// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/warden/internal/anomaly"
	"github.com/holomush/warden/internal/api"
	"github.com/holomush/warden/internal/auditlog"
	"github.com/holomush/warden/internal/config"
	"github.com/holomush/warden/internal/replica"
	"github.com/holomush/warden/internal/store"
	"github.com/holomush/warden/pkg/errutil"
)

// newServeCmd creates the serve subcommand.
func newServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the audit API server",
		Long: `Start the HTTP API serving the administrative audit log listing.
Every administrative read is scored for anomalies; verdicts are written
to PostgreSQL in batches and copied to any configured replicas.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, deps)
		},
	}
}

// runServeWithDeps runs the server until a signal arrives, ctx is cancelled
// or a listener fails.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *Deps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireServe(); err != nil {
		return err
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := deps.PoolFactory(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrapf(err, "connecting to database")
	}
	defer pool.Close()

	pg := store.NewPostgres(pool,
		store.WithForkRetries(cfg.Chain.ForkRetries, cfg.Chain.ForkBackoff),
		store.WithPostgresLogger(logger),
	)

	catalog, err := anomaly.LoadCatalog(cfg.Signals.File)
	if err != nil {
		return err
	}

	replicas, closeReplicas, err := buildReplicas(cfg.Replica, deps, logger)
	if err != nil {
		return err
	}
	defer closeReplicas()

	engine := anomaly.NewEngine(pg,
		anomaly.WithConfig(anomaly.Config{
			BatchSize:     cfg.Anomaly.BatchSize,
			FlushInterval: cfg.Anomaly.FlushInterval,
			RetryCount:    cfg.Anomaly.RetryCount,
			BaseDelay:     cfg.Anomaly.BaseDelay,
		}),
		anomaly.WithReplicas(replicas...),
		anomaly.WithLogger(logger),
	)

	handler := api.NewRouter(api.Deps{
		Auth:     api.NewJWTAuthenticator(cfg.Auth.JWTSecret),
		Audit:    auditlog.NewReader(pg),
		Recorder: anomaly.NewRecorder(engine, anomaly.WithRecorderLogger(logger)),
		Catalog:  catalog,
		Logger:   logger,
	})

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		closeEngine(logger, engine, cfg.Anomaly.ShutdownGrace)
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErrCh := make(chan error, 1)
	go func() {
		defer close(httpErrCh)
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			httpErrCh <- serveErr
		}
	}()
	go monitorServerErrors(ctx, cancel, httpErrCh, "api")

	var obsServer ObservabilityServer
	if cfg.HTTP.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.HTTP.MetricsAddr, version, pg.Ping)
		obsErrCh, startErr := obsServer.Start()
		if startErr != nil {
			_ = srv.Close() //nolint:errcheck // startup error takes precedence
			closeEngine(logger, engine, cfg.Anomaly.ShutdownGrace)
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.HTTP.MetricsAddr).Wrap(startErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Warden started")
	logger.Info("warden ready",
		"addr", listener.Addr().String(),
		"metrics_addr", cfg.HTTP.MetricsAddr,
		"replicas", len(replicas),
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	// Stop intake first so no request enqueues after the engine drains.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}

	closeEngine(logger, engine, cfg.Anomaly.ShutdownGrace)

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// closeEngine drains queued anomaly entries within grace.
func closeEngine(logger *slog.Logger, engine *anomaly.Engine, grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := engine.Close(ctx); err != nil {
		errutil.LogError(logger, "anomaly engine did not drain before shutdown", err)
	}
}

// buildReplicas creates the replicas enabled in cfg and a function closing
// their clients.
func buildReplicas(cfg config.ReplicaConfig, deps *Deps, logger *slog.Logger) ([]anomaly.Replica, func(), error) {
	var replicas []anomaly.Replica
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Redis.Addr != "" {
		client := deps.RedisClientFactory(cfg.Redis)
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("error closing redis client", "error", err)
			}
		})
		var opts []replica.RedisOption
		if cfg.Redis.Stream != "" {
			opts = append(opts, replica.WithStream(cfg.Redis.Stream))
		}
		replicas = append(replicas, replica.NewRedis(client, opts...))
	}

	if cfg.S3.Bucket != "" {
		s3, err := deps.S3ReplicaFactory(replica.S3Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			closeAll()
			return nil, func() {}, oops.Code(config.CodeInvalid).With("bucket", cfg.S3.Bucket).Wrapf(err, "creating s3 replica")
		}
		replicas = append(replicas, s3)
	}

	return replicas, closeAll, nil
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when an error is received, the channel is closed or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
