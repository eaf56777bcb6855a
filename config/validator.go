package config

import "fmt"

// Validator validates LAM configurations.
type Validator struct{}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate performs comprehensive validation of a LAMConfig.
// Returns nil if valid, or an error describing the first validation failure.
func (v *Validator) Validate(cfg *LAMConfig) error {
	if cfg == nil {
		return ErrConfigEmpty
	}

	if cfg.Namespace == "" {
		return ErrNamespaceEmpty
	}

	if cfg.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent=%d: %w", cfg.MaxConcurrent, ErrMaxConcurrentInvalid)
	}

	if cfg.LocalRetryThresholdMs < 0 {
		return fmt.Errorf("local_retry_threshold_ms=%d: %w", cfg.LocalRetryThresholdMs, ErrRetryPolicyInvalid)
	}

	return v.validateRetryPolicy(cfg.RetryPolicy)
}

func (v *Validator) validateRetryPolicy(p RetryPolicyConfig) error {
	if p.InitialIntervalMs <= 0 {
		return fmt.Errorf("initial_interval_ms=%d: %w", p.InitialIntervalMs, ErrRetryPolicyInvalid)
	}
	if p.BackoffCoefficient < 1 {
		return fmt.Errorf("backoff_coefficient=%f: %w", p.BackoffCoefficient, ErrRetryPolicyInvalid)
	}
	if p.MaxIntervalMs > 0 && p.MaxIntervalMs < p.InitialIntervalMs {
		return fmt.Errorf("max_interval_ms=%d < initial_interval_ms=%d: %w",
			p.MaxIntervalMs, p.InitialIntervalMs, ErrRetryPolicyInvalid)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts=%d: %w", p.MaxAttempts, ErrRetryPolicyInvalid)
	}
	return nil
}
