// Package auditlog provides structured, per-activity audit logging for
// the local activity manager. It replaces a bare log.Printf helper with
// zerolog events carrying the identity, attempt, and outcome of every
// admission, dispatch, and completion, so an operator can grep one field
// instead of parsing a format string.
package auditlog

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/runtimelab/lam/contracts"
)

// Log wraps a zerolog.Logger with the fixed "component" field every
// audit event carries.
type Log struct {
	logger zerolog.Logger
}

// New returns a Log writing through the given logger.
func New(logger zerolog.Logger) Log {
	return Log{logger: logger.With().Str("component", "lam.audit").Logger()}
}

// Admitted records a successful enqueue.
func (l Log) Admitted(id contracts.ExecutingLAID, activityType string) {
	l.logger.Info().
		Str("event", "admitted").
		Str("id", id.String()).
		Str("activity_type", activityType).
		Msg("local activity admitted")
}

// AdmissionRejected records an id that could not be admitted, e.g. a
// schedule-to-close timeout already exhausted at enqueue time.
func (l Log) AdmissionRejected(id contracts.ExecutingLAID, reason string) {
	l.logger.Warn().
		Str("event", "admission_rejected").
		Str("id", id.String()).
		Str("reason", reason).
		Msg("local activity rejected at admission")
}

// Dispatched records a Start dispatch to the executor.
func (l Log) Dispatched(id contracts.ExecutingLAID, attempt uint32) {
	l.logger.Info().
		Str("event", "dispatched").
		Str("id", id.String()).
		Uint32("attempt", attempt).
		Msg("local activity dispatched")
}

// Cancelled records a cancel reaching the priority queue or resolving a
// backing-off activity.
func (l Log) Cancelled(id contracts.ExecutingLAID, duringBackoff bool) {
	l.logger.Info().
		Str("event", "cancelled").
		Str("id", id.String()).
		Bool("during_backoff", duringBackoff).
		Msg("local activity cancelled")
}

// TimedOut records a schedule-to-start, start-to-close, or
// schedule-to-close timeout.
func (l Log) TimedOut(id contracts.ExecutingLAID, kind string, attempt uint32) {
	l.logger.Warn().
		Str("event", "timed_out").
		Str("id", id.String()).
		Str("timeout_type", kind).
		Uint32("attempt", attempt).
		Msg("local activity timed out")
}

// Completed records a terminal Report-class completion.
func (l Log) Completed(id contracts.ExecutingLAID, attempt uint32, runtime time.Duration) {
	l.logger.Info().
		Str("event", "completed").
		Str("id", id.String()).
		Uint32("attempt", attempt).
		Dur("runtime", runtime).
		Msg("local activity completed")
}

// Retrying records a failure the manager is retrying itself.
func (l Log) Retrying(id contracts.ExecutingLAID, nextAttempt uint32, backoff time.Duration) {
	l.logger.Info().
		Str("event", "retrying").
		Str("id", id.String()).
		Uint32("next_attempt", nextAttempt).
		Dur("backoff", backoff).
		Msg("local activity scheduled for local retry")
}

// DelegatedToTimer records a failure whose backoff exceeded the local
// retry threshold and was handed back to the workflow.
func (l Log) DelegatedToTimer(id contracts.ExecutingLAID, attempt uint32, backoff time.Duration) {
	l.logger.Info().
		Str("event", "delegated_to_timer").
		Str("id", id.String()).
		Uint32("attempt", attempt).
		Dur("backoff", backoff).
		Msg("local activity backoff delegated to workflow timer")
}

// UntrackedCompletion records a completion for a token the manager no
// longer recognizes, which is never an error, but worth surfacing.
func (l Log) UntrackedCompletion(token string) {
	l.logger.Warn().
		Str("event", "untracked_completion").
		Str("token", token).
		Msg("completion received for unknown task token")
}
