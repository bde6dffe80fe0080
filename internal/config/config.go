// Package config loads garland's runtime settings from the
// environment. The environment is the baseline so scripted runs and CI
// behave the same without flag plumbing; commands overlay their flags
// on top and re-validate.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Log output formats accepted by Config.LogFormat.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config holds the settings every garland command shares.
type Config struct {
	// DBPath is the SQLite journal location.
	DBPath string `env:"GARLAND_DB" envDefault:"garland.db"`

	// SpecsDir is the directory scanned for CUE manifests.
	SpecsDir string `env:"GARLAND_SPECS" envDefault:"./specs"`

	// RedisAddr enables the Redis stats store when set (host:port).
	// Empty keeps per-target counters in memory.
	RedisAddr string `env:"GARLAND_REDIS"`

	// RedisPrefix overrides the stats key prefix. Empty uses the
	// stats package default.
	RedisPrefix string `env:"GARLAND_REDIS_PREFIX"`

	// LogFormat selects the slog handler: text or json.
	LogFormat string `env:"GARLAND_LOG_FORMAT" envDefault:"text"`

	// MaxSteps caps journaled calls per dispatch token. The default
	// matches engine.DefaultMaxSteps.
	MaxSteps int `env:"GARLAND_MAX_STEPS" envDefault:"1000"`
}

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enum and range fields. Load calls it once; commands
// call it again after applying flag overrides.
func (c Config) Validate() error {
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("invalid log format %q: must be %q or %q", c.LogFormat, LogFormatText, LogFormatJSON)
	}

	if c.MaxSteps <= 0 {
		return fmt.Errorf("max steps must be positive, got %d", c.MaxSteps)
	}

	return nil
}
