package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Loader loads and parses LAM configuration files.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new configuration loader that logs load outcomes
// through logger, the same structured-event style internal/auditlog uses
// for the manager's own lifecycle events.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "config.Loader").Logger()}
}

// LoadFromFile loads and parses a LAM configuration from a JSON file.
// Returns the validated LAMConfig or an error.
// File errors are wrapped with context (use errors.Is(err, fs.ErrNotExist) to check for missing file).
func (l *Loader) LoadFromFile(path string) (*LAMConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		l.logger.Warn().Err(err).Str("path", path).Msg("reading config file")
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg, err := l.LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	l.logger.Info().Str("path", path).Msg("config loaded")
	return cfg, nil
}

// LoadFromBytes parses LAM configuration from raw JSON bytes.
// Returns the validated LAMConfig or an error.
// Empty data (len==0) returns ErrConfigEmpty.
// Parse errors are wrapped (use json.SyntaxError to check for parse failures).
func (l *Loader) LoadFromBytes(data []byte) (*LAMConfig, error) {
	if len(data) == 0 {
		return nil, ErrConfigEmpty
	}

	var cfg LAMConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		l.logger.Warn().Err(err).Msg("parsing config JSON")
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	validator := NewValidator()
	if err := validator.Validate(&cfg); err != nil {
		l.logger.Warn().Err(err).Msg("config failed validation")
		return nil, err
	}

	l.logger.Debug().
		Str("namespace", cfg.Namespace).
		Int("max_concurrent", cfg.MaxConcurrent).
		Int64("local_retry_threshold_ms", cfg.LocalRetryThresholdMs).
		Msg("config parsed and validated")
	return &cfg, nil
}
