package localactivity

import (
	"fmt"
	"time"

	"github.com/runtimelab/lam/config"
	"github.com/runtimelab/lam/contracts"
	"github.com/runtimelab/lam/internal/retrypolicy"
)

// CloseTimeoutKind is one of the four close-timeout variants a schedule
// record may carry.
type CloseTimeoutKind int

const (
	CloseTimeoutNone CloseTimeoutKind = iota
	CloseTimeoutScheduleOnly
	CloseTimeoutStartOnly
	CloseTimeoutBoth
)

// CloseTimeoutPolicy resolves at admission into an optional
// (schedule-to-close, start-to-close) pair.
type CloseTimeoutPolicy struct {
	Kind            CloseTimeoutKind
	ScheduleToClose time.Duration
	StartToClose    time.Duration
}

// Resolve returns the configured durations and whether each is set.
func (p CloseTimeoutPolicy) Resolve() (scheduleToClose, startToClose time.Duration, hasSchedule, hasStart bool) {
	switch p.Kind {
	case CloseTimeoutScheduleOnly:
		return p.ScheduleToClose, 0, true, false
	case CloseTimeoutStartOnly:
		return 0, p.StartToClose, false, true
	case CloseTimeoutBoth:
		return p.ScheduleToClose, p.StartToClose, true, true
	default:
		return 0, 0, false, false
	}
}

// ScheduleRecord is the full schedule record for a new local activity
// request. Once admitted it is treated as immutable; retries derive a new
// attempt from it but never mutate it in place.
type ScheduleRecord struct {
	ID                  contracts.ExecutingLAID
	ActivityID          string
	ActivityType        string
	Input               []byte
	Headers             map[string][]byte
	RetryPolicy         config.RetryPolicyConfig
	ScheduleToStart     time.Duration // zero means unset
	CloseTimeouts       CloseTimeoutPolicy
	LocalRetryThreshold time.Duration // zero means "use the manager default"
	WorkflowType        string
	WorkflowExecution   WorkflowExecution
	ScheduleTime        time.Time
	// Attempt is the explicit attempt number carried on the request; 0 or
	// 1 both mean "fresh, first dispatch".
	Attempt uint32
}

// String renders the record for logging, e.g. "LocalActivity(3, my-activity)".
func (r ScheduleRecord) String() string {
	return fmt.Sprintf("LocalActivity(%d, %s)", r.ID.SeqNum, r.ActivityType)
}

// initialAttempt normalizes Attempt for a fresh (non-retry) dispatch: 0 or
// 1 both mean "first dispatch".
func (r ScheduleRecord) initialAttempt() uint32 {
	if r.Attempt >= 1 {
		return r.Attempt
	}
	return 1
}

func (r ScheduleRecord) localRetryThreshold(managerDefault time.Duration) time.Duration {
	if r.LocalRetryThreshold > 0 {
		return r.LocalRetryThreshold
	}
	return managerDefault
}

// WorkflowExecution identifies the workflow execution a local activity was
// scheduled from.
type WorkflowExecution struct {
	WorkflowID string
	RunID      contracts.RunID
}

// InFlightInfo exists from dispatch until Complete is called for the
// activity's current token.
type InFlightInfo struct {
	Record       ScheduleRecord
	DispatchTime time.Time
	Attempt      uint32

	permit *OwnedPermit
}

// ExecutionResultKind tags the outcome of one dispatched attempt.
type ExecutionResultKind int

const (
	ResultCompleted ExecutionResultKind = iota
	ResultFailed
	ResultTimedOut
	ResultCancelled
)

// TimeoutType distinguishes which wall-clock bound was exceeded.
type TimeoutType int

const (
	TimeoutUnspecified TimeoutType = iota
	TimeoutScheduleToStart
	TimeoutStartToClose
	TimeoutScheduleToClose
)

func (t TimeoutType) String() string {
	switch t {
	case TimeoutScheduleToStart:
		return "schedule_to_start"
	case TimeoutStartToClose:
		return "start_to_close"
	case TimeoutScheduleToClose:
		return "schedule_to_close"
	default:
		return "unspecified"
	}
}

// ExecutionResult is the tagged union the executor reports back through
// Complete. Only Failed may trigger a retry; TimedOut is terminal at the
// manager level regardless of remaining attempts.
type ExecutionResult struct {
	Kind        ExecutionResultKind
	Payload     []byte                  // opaque; meaningful for Completed
	Failure     retrypolicy.FailureInfo // meaningful for Failed
	TimeoutType TimeoutType             // meaningful for TimedOut
}

// Resolution is the record returned to the workflow layer.
type Resolution struct {
	Seq                  contracts.SeqNum
	Result               ExecutionResult
	Runtime              time.Duration
	Attempt              uint32
	Backoff              *time.Duration
	OriginalScheduleTime *time.Time
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func ptrDuration(d time.Duration) *time.Duration {
	return &d
}
