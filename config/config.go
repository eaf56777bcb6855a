// Package config provides JSON-file loading and validation for the local
// activity manager's static configuration.
package config

import "time"

// LAMConfig is the root configuration structure for a local activity
// manager instance.
type LAMConfig struct {
	// Namespace is stamped onto every dispatched activity task.
	Namespace string `json:"namespace"`

	// MaxConcurrent bounds the number of local activities dispatched and
	// not yet completed at any one time.
	MaxConcurrent int `json:"max_concurrent"`

	// LocalRetryThresholdMs divides backoffs handled inside the manager
	// (<=) from those delegated to a durable workflow timer (>).
	LocalRetryThresholdMs int64 `json:"local_retry_threshold_ms"`

	// RetryPolicy is the retry policy the manager's should_retry function
	// is built from; it applies to every activity. A schedule record's
	// own retry policy is not consulted for retry decisions.
	RetryPolicy RetryPolicyConfig `json:"retry_policy"`
}

// RetryPolicyConfig configures the concrete should_retry collaborator
// (internal/retrypolicy).
type RetryPolicyConfig struct {
	InitialIntervalMs  int64    `json:"initial_interval_ms"`
	BackoffCoefficient float64  `json:"backoff_coefficient"`
	MaxIntervalMs      int64    `json:"max_interval_ms"`
	MaxAttempts        int      `json:"max_attempts"`
	NonRetryableTypes  []string `json:"non_retryable_error_types,omitempty"`
}

// LocalRetryThreshold returns LocalRetryThresholdMs as a time.Duration.
func (c LAMConfig) LocalRetryThreshold() time.Duration {
	return time.Duration(c.LocalRetryThresholdMs) * time.Millisecond
}
