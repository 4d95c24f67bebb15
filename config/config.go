// Package config loads the server configuration from the environment.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/datmedevil17/apocalypse/session"
	"github.com/datmedevil17/apocalypse/telemetry"
)

type Config struct {
	// Namespace separates this program's objects, session tokens and signatures from other deployments.
	Namespace string `env:"APOCALYPSE_NAMESPACE" envDefault:"apocalypse"`

	// Port the HTTP server listens on.
	Port string `env:"APOCALYPSE_PORT" envDefault:"4040"`

	// Redis holding the base layer and, unless RollupRedisAddr is set, the rollup layer.
	RedisAddr     string `env:"REDIS_ADDRESS" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// RollupRedisAddr points the rollup layer at its own redis.
	RollupRedisAddr string `env:"ROLLUP_REDIS_ADDRESS"`

	// Validator is the rollup validator objects are delegated to.
	Validator string `env:"ROLLUP_VALIDATOR" envDefault:"local-validator"`

	// TxTTL is how old a signed transaction may be when it arrives.
	TxTTL time.Duration `env:"TX_TTL" envDefault:"120s"`

	// DefaultSessionValidity applies to session requests that do not name a lifetime.
	DefaultSessionValidity time.Duration `env:"SESSION_DEFAULT_VALIDITY" envDefault:"1h"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// TraceEndpoint is an OTLP gRPC collector; tracing is off when empty.
	TraceEndpoint   string  `env:"OTEL_ENDPOINT"`
	TraceSampleRate float64 `env:"OTEL_TRACE_SAMPLE_RATE" envDefault:"1.0"`
}

// Load parses the configuration from environment variables.
func Load() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse environment variables")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate config")
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if cfg.Namespace == "" {
		return eris.New("namespace cannot be empty")
	}
	if cfg.Port == "" {
		return eris.New("port cannot be empty")
	}
	if cfg.RedisAddr == "" {
		return eris.New("redis address cannot be empty")
	}
	if cfg.Validator == "" {
		return eris.New("rollup validator cannot be empty")
	}
	if cfg.TxTTL <= 0 {
		return eris.New("transaction TTL must be positive")
	}
	if cfg.DefaultSessionValidity <= 0 || cfg.DefaultSessionValidity > session.MaxValidity {
		return eris.Errorf("default session validity must be positive and at most %s", session.MaxValidity)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		return eris.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", cfg.LogLevel)
	}
	if telemetry.ParseLogFormat(cfg.LogFormat) == telemetry.LogFormatUndefined {
		return eris.Errorf("invalid log format: %s (must be 'json' or 'pretty')", cfg.LogFormat)
	}
	if cfg.TraceSampleRate < 0.0 || cfg.TraceSampleRate > 1.0 {
		return eris.New("trace sample rate must be between 0.0 and 1.0")
	}
	return nil
}

// TelemetryOptions returns the logging and tracing options for serviceName.
func (cfg *Config) TelemetryOptions(serviceName string) telemetry.Options {
	return telemetry.Options{
		ServiceName:     serviceName,
		LogLevel:        cfg.LogLevel,
		LogFormat:       telemetry.ParseLogFormat(cfg.LogFormat),
		TraceEndpoint:   cfg.TraceEndpoint,
		TraceSampleRate: cfg.TraceSampleRate,
	}
}
