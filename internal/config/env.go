package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Env holds process-level settings read from the environment. They override
// the corresponding experiment file fields.
type Env struct {
	Seed         *uint64 `env:"EPISIM_SEED"`
	Workers      int     `env:"EPISIM_WORKERS"`
	LogLevel     string  `env:"EPISIM_LOG_LEVEL" envDefault:"info"`
	OTelEndpoint string  `env:"EPISIM_OTEL_ENDPOINT"`
	MetricsAddr  string  `env:"EPISIM_METRICS_ADDR"`
	RunsDir      string  `env:"EPISIM_RUNS_DIR" envDefault:"runs"`
}

func ParseEnv() (Env, error) {
	var cfg Env
	if err := env.Parse(&cfg); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Apply copies the set fields of e onto c.
func (e Env) Apply(c *Config) {
	if e.Seed != nil {
		c.Seed = *e.Seed
	}
	if e.Workers > 0 {
		c.Ensemble.Workers = e.Workers
	}
}

// Level maps LogLevel to a slog level, defaulting to info.
func (e Env) Level() slog.Level {
	switch strings.ToLower(e.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
