// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads warden configuration.
//
// Sources are merged in increasing precedence: an optional YAML file, then
// WARDEN_* environment variables, then command-line flags. Flag defaults
// apply only to keys no other source set.
//
// Environment names map to keys by dropping the WARDEN_ prefix, lowercasing,
// turning "__" into a nesting separator and "_" into "-". For example
// WARDEN_AUTH__JWT_SECRET sets auth.jwt-secret.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// CodeInvalid marks configuration errors.
const CodeInvalid = "CONFIG_INVALID"

// EnvPrefix prefixes every environment variable read.
const EnvPrefix = "WARDEN_"

// Config is the complete process configuration.
type Config struct {
	DatabaseURL string        `koanf:"database-url"`
	Log         LogConfig     `koanf:"log"`
	HTTP        HTTPConfig    `koanf:"http"`
	Auth        AuthConfig    `koanf:"auth"`
	Anomaly     AnomalyConfig `koanf:"anomaly"`
	Chain       ChainConfig   `koanf:"chain"`
	Signals     SignalsConfig `koanf:"signals"`
	Replica     ReplicaConfig `koanf:"replica"`
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// HTTPConfig holds listen addresses. An empty metrics address disables the
// observability server.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	MetricsAddr     string        `koanf:"metrics-addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown-timeout"`
}

// AuthConfig holds the bearer token settings.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt-secret"`
}

// AnomalyConfig tunes the anomaly batch engine.
type AnomalyConfig struct {
	BatchSize     int           `koanf:"batch-size"`
	FlushInterval time.Duration `koanf:"flush-interval"`
	RetryCount    int           `koanf:"retry-count"`
	BaseDelay     time.Duration `koanf:"base-delay"`
	ShutdownGrace time.Duration `koanf:"shutdown-grace"`
}

// ChainConfig bounds retries when concurrent writers contend for the audit
// chain head.
type ChainConfig struct {
	ForkRetries int           `koanf:"fork-retries"`
	ForkBackoff time.Duration `koanf:"fork-backoff"`
}

// SignalsConfig points at an optional signal weight file.
type SignalsConfig struct {
	File string `koanf:"file"`
}

// ReplicaConfig enables the optional anomaly replicas.
type ReplicaConfig struct {
	Redis RedisConfig `koanf:"redis"`
	S3    S3Config    `koanf:"s3"`
}

// RedisConfig configures the Redis stream replica. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Stream   string `koanf:"stream"`
}

// S3Config configures the object storage replica. Empty Bucket disables it.
type S3Config struct {
	Bucket          string `koanf:"bucket"`
	Prefix          string `koanf:"prefix"`
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint"`
	AccessKeyID     string `koanf:"access-key-id"`
	SecretAccessKey string `koanf:"secret-access-key"`
	UsePathStyle    bool   `koanf:"use-path-style"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "json"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			MetricsAddr:     "127.0.0.1:9100",
			ShutdownTimeout: 10 * time.Second,
		},
		Anomaly: AnomalyConfig{
			BatchSize:     50,
			FlushInterval: time.Second,
			RetryCount:    3,
			BaseDelay:     100 * time.Millisecond,
			ShutdownGrace: 10 * time.Second,
		},
		Chain: ChainConfig{
			ForkRetries: 5,
			ForkBackoff: 10 * time.Millisecond,
		},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"database-url":   "database-url",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"http-addr":      "http.addr",
	"metrics-addr":   "http.metrics-addr",
	"jwt-secret":     "auth.jwt-secret",
	"signals-file":   "signals.file",
	"batch-size":     "anomaly.batch-size",
	"flush-interval": "anomaly.flush-interval",
	"shutdown-grace": "anomaly.shutdown-grace",
}

// Load merges path (if non-empty), the environment and fs (if non-nil) over
// the defaults and validates the result.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code(CodeInvalid).With("path", path).Wrapf(err, "loading config file")
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, oops.Code(CodeInvalid).Wrapf(err, "loading environment")
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code(CodeInvalid).Wrapf(err, "loading flags")
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code(CodeInvalid).Wrapf(err, "decoding configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKey maps WARDEN_ANOMALY__BATCH_SIZE to anomaly.batch-size.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.Split(s, "__")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, "_", "-")
	}
	return strings.Join(parts, ".")
}

// Validate checks settings every command depends on.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", c.Log.Level, "must be one of debug, info, warn, error")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", c.Log.Format, "must be json or text")
	}
	if c.Anomaly.BatchSize <= 0 {
		return invalid("anomaly.batch-size", c.Anomaly.BatchSize, "must be positive")
	}
	if c.Anomaly.FlushInterval <= 0 {
		return invalid("anomaly.flush-interval", c.Anomaly.FlushInterval, "must be positive")
	}
	if c.Anomaly.RetryCount < 0 {
		return invalid("anomaly.retry-count", c.Anomaly.RetryCount, "must not be negative")
	}
	if c.Anomaly.BaseDelay <= 0 {
		return invalid("anomaly.base-delay", c.Anomaly.BaseDelay, "must be positive")
	}
	if c.Anomaly.ShutdownGrace <= 0 {
		return invalid("anomaly.shutdown-grace", c.Anomaly.ShutdownGrace, "must be positive")
	}
	if c.Chain.ForkRetries < 0 {
		return invalid("chain.fork-retries", c.Chain.ForkRetries, "must not be negative")
	}
	return nil
}

// RequireDatabase fails when no database URL is configured.
func (c Config) RequireDatabase() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return invalid("database-url", "", "is required (flag --database-url or WARDEN_DATABASE_URL)")
	}
	return nil
}

// RequireServe checks the settings the HTTP server cannot start without.
func (c Config) RequireServe() error {
	if err := c.RequireDatabase(); err != nil {
		return err
	}
	if c.Auth.JWTSecret == "" {
		return invalid("auth.jwt-secret", "", "is required (flag --jwt-secret or WARDEN_AUTH__JWT_SECRET)")
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "", "is required")
	}
	return nil
}

func invalid(key string, value any, msg string) error {
	return oops.Code(CodeInvalid).With("key", key).With("value", value).Errorf("%s %s", key, msg)
}
