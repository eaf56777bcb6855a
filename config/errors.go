package config

import "errors"

// Sentinel errors for LAM configuration validation.
var (
	// ErrConfigEmpty is returned when the config data is empty (zero bytes).
	ErrConfigEmpty = errors.New("lam configuration is empty")

	// ErrNamespaceEmpty is returned when namespace is empty.
	ErrNamespaceEmpty = errors.New("namespace is required")

	// ErrMaxConcurrentInvalid is returned when max_concurrent is <= 0.
	ErrMaxConcurrentInvalid = errors.New("max_concurrent must be positive")

	// ErrRetryPolicyInvalid is returned when retry_policy has a
	// nonsensical shape (negative interval, zero coefficient, etc).
	ErrRetryPolicyInvalid = errors.New("retry_policy is invalid")
)
