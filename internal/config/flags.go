// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import "github.com/spf13/pflag"

// RegisterFlags adds the configuration flags to fs with the built-in
// defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("database-url", d.DatabaseURL, "PostgreSQL connection URL")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("http-addr", d.HTTP.Addr, "HTTP listen address")
	fs.String("metrics-addr", d.HTTP.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("jwt-secret", d.Auth.JWTSecret, "HS256 secret for bearer tokens")
	fs.String("signals-file", d.Signals.File, "YAML file overriding anomaly signal weights")
	fs.Int("batch-size", d.Anomaly.BatchSize, "anomaly entries per batch")
	fs.Duration("flush-interval", d.Anomaly.FlushInterval, "maximum time an anomaly entry waits before a flush")
	fs.Duration("shutdown-grace", d.Anomaly.ShutdownGrace, "time allowed to drain anomaly entries on shutdown")
}
