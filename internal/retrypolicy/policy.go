// Package retrypolicy implements the should_retry collaborator: a pure
// function from (attempt, failure) to an optional backoff duration.
// internal/localactivity treats it as an external collaborator, depending
// only on the narrow ShouldRetry function value rather than this
// package's types directly; a concrete implementation lives here so the
// manager's retry-threshold behavior is exercisable and testable.
package retrypolicy

import (
	"math"
	"time"

	"github.com/runtimelab/lam/config"
)

// FailureInfo carries the minimal information should_retry needs to
// classify a failure: its declared type, mirroring Temporal's
// ApplicationFailureInfo.Type.
type FailureInfo struct {
	// Type is the application-declared failure type, e.g. "TestError".
	// Empty means untyped.
	Type string

	// NonRetryable, when true, forces Report regardless of attempt count
	// or configured non-retryable type list.
	NonRetryable bool
}

// Policy evaluates should_retry(attempt, failure) -> Option<Duration>.
type Policy struct {
	initialInterval    time.Duration
	backoffCoefficient float64
	maxInterval        time.Duration
	maxAttempts        int
	nonRetryableTypes  map[string]struct{}
}

// New builds a Policy from a validated config.RetryPolicyConfig.
func New(cfg config.RetryPolicyConfig) *Policy {
	p := &Policy{
		initialInterval:    time.Duration(cfg.InitialIntervalMs) * time.Millisecond,
		backoffCoefficient: cfg.BackoffCoefficient,
		maxInterval:        time.Duration(cfg.MaxIntervalMs) * time.Millisecond,
		maxAttempts:        cfg.MaxAttempts,
	}
	if len(cfg.NonRetryableTypes) > 0 {
		p.nonRetryableTypes = make(map[string]struct{}, len(cfg.NonRetryableTypes))
		for _, t := range cfg.NonRetryableTypes {
			p.nonRetryableTypes[t] = struct{}{}
		}
	}
	return p
}

// ShouldRetry returns the backoff duration to wait before the next
// attempt, and true, or (0, false) if the activity should not be
// retried: the policy is exhausted, the attempt was marked
// non-retryable, or the failure's type is in the non-retryable
// allowlist.
//
// attempt is the attempt number that just failed (1-indexed; an unset
// attempt is normalized to 1 by the caller before reaching here).
func (p *Policy) ShouldRetry(attempt int, failure FailureInfo) (time.Duration, bool) {
	if failure.NonRetryable {
		return 0, false
	}
	if failure.Type != "" {
		if _, blocked := p.nonRetryableTypes[failure.Type]; blocked {
			return 0, false
		}
	}
	if p.maxAttempts > 0 && attempt >= p.maxAttempts {
		return 0, false
	}

	backoff := time.Duration(float64(p.initialInterval) * math.Pow(p.backoffCoefficient, float64(attempt-1)))
	if p.maxInterval > 0 && backoff > p.maxInterval {
		backoff = p.maxInterval
	}
	return backoff, true
}
