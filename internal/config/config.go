// Package config loads the engine's tunables from a TOML file, using
// the same github.com/BurntSushi/toml decode-into-struct idiom the
// teacher's internal/parser/toml package uses for schema files.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"flexilite/internal/applier"
	"flexilite/internal/validator"
)

// Engine holds the [engine] table.
type Engine struct {
	// IndexApplyThreshold is the row count below which ordered/full-text/
	// range index intent is deferred and only uniqueness is materialised
	// (spec.md §4.6). It never affects whether a data validation scan runs.
	IndexApplyThreshold int64 `toml:"index_apply_threshold"`

	// ValidationPollInterval is how many rows the scan processes between
	// cancellation checks (spec.md §4.5, default 1024).
	ValidationPollInterval int `toml:"validation_poll_interval"`

	// DefaultValidationMode is one of "abort", "ignore", "mark".
	DefaultValidationMode string `toml:"default_validation_mode"`
}

// Substrate holds the [substrate] table: how to reach the backing store.
type Substrate struct {
	DSN string `toml:"dsn"`
}

// Config is the top-level document shape.
type Config struct {
	Engine    Engine    `toml:"engine"`
	Substrate Substrate `toml:"substrate"`
}

// Default returns the engine's built-in tunables, used when no config
// file is supplied.
func Default() Config {
	return Config{
		Engine: Engine{
			IndexApplyThreshold:    applier.DefaultIndexApplyThreshold,
			ValidationPollInterval: validator.DefaultPollInterval,
			DefaultValidationMode:  string(validator.ModeAbort),
		},
	}
}

// Load reads and decodes the TOML file at path, filling in any field
// left zero from Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	if cfg.Engine.IndexApplyThreshold <= 0 {
		cfg.Engine.IndexApplyThreshold = applier.DefaultIndexApplyThreshold
	}
	if cfg.Engine.ValidationPollInterval <= 0 {
		cfg.Engine.ValidationPollInterval = validator.DefaultPollInterval
	}
	if cfg.Engine.DefaultValidationMode == "" {
		cfg.Engine.DefaultValidationMode = string(validator.ModeAbort)
	}
	return cfg, nil
}

// ApplierOptions converts the engine config into applier.Options.
func (c Config) ApplierOptions() applier.Options {
	return applier.Options{
		IndexApplyThreshold: c.Engine.IndexApplyThreshold,
		ValidationMode:      validator.Mode(c.Engine.DefaultValidationMode),
		PollInterval:        c.Engine.ValidationPollInterval,
	}
}
