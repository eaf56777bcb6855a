package localactivity

import (
	"time"

	"github.com/runtimelab/lam/config"
	"github.com/runtimelab/lam/contracts"
)

// DispatchKind tags what NextPending handed back.
type DispatchKind int

const (
	KindDispatch DispatchKind = iota
	KindTimeout
)

// DispatchOrTimeout is the value NextPending returns: either a task to run
// or cancel, or a timeout notice the caller must forward to the workflow
// as a resolution (and, if it carries a Task, also deliver to the
// executor so it can stop work in progress).
type DispatchOrTimeout struct {
	Kind     DispatchKind
	Dispatch *ActivityTask
	Timeout  *TimeoutNotice
}

// TimeoutNotice reports a schedule-to-start, schedule-to-close, or
// start-to-close timeout detected without any executor involvement.
type TimeoutNotice struct {
	RunID      contracts.RunID
	Resolution Resolution
	// Task is non-nil only when the timed-out activity was already
	// dispatched and must be told to stop.
	Task *ActivityTask
}

// ActivityTaskVariant distinguishes a fresh start from an in-flight cancel.
type ActivityTaskVariant int

const (
	ActivityTaskVariantStart ActivityTaskVariant = iota
	ActivityTaskVariantCancel
)

// ActivityTask is one unit of work handed to the local activity executor.
type ActivityTask struct {
	TaskToken TaskToken
	Variant   ActivityTaskVariant
	Start     *ActivityTaskStart
	Cancel    *ActivityTaskCancel
}

// CancelReason distinguishes an explicit workflow-issued cancel from one
// synthesized by a timeout.
type CancelReason int

const (
	ReasonCancelled CancelReason = iota
	ReasonTimedOut
)

// ActivityTaskCancel asks the executor to cancel a task it already
// started; IsLocal activities have no heartbeat channel, so this is the
// only way the manager can ask work in progress to stop.
type ActivityTaskCancel struct {
	Reason CancelReason
}

// CancelDispatch is what Manager.Cancel pushes onto the cancel/timeout
// queue for a queued or dispatched activity.
type CancelDispatch struct {
	Token  TaskToken
	Reason CancelReason
}

// ActivityTaskStart carries everything the executor needs to run one
// attempt. It is intentionally flat rather than embedding ScheduleRecord:
// the executor should not be able to see or depend on manager-internal
// bookkeeping fields.
type ActivityTaskStart struct {
	WorkflowNamespace           string
	WorkflowType                string
	WorkflowExecution           WorkflowExecution
	ActivityID                  string
	ActivityType                string
	Headers                     map[string][]byte
	Input                       []byte
	ScheduledTime               time.Time
	CurrentAttemptScheduledTime time.Time
	StartedTime                 time.Time
	Attempt                     uint32
	HasScheduleToCloseTimeout   bool
	ScheduleToCloseTimeout      time.Duration
	HasStartToCloseTimeout      bool
	StartToCloseTimeout         time.Duration
	RetryPolicy                 config.RetryPolicyConfig
	// IsLocal is always true; carried so callers sharing DTOs with a
	// remote-activity dispatcher can discriminate without a type switch.
	IsLocal bool
}
