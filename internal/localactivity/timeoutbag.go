package localactivity

import (
	"sync"
	"time"

	"github.com/runtimelab/lam/contracts"
)

// timeoutBag owns the wall-clock timers for one admitted local activity:
// an optional schedule-to-close timer armed once at admission and held
// across every retry, and an optional start-to-close timer rearmed fresh
// on every dispatch. Firing either removes the id's index entries and
// pushes a timeout event onto the manager's cancel/timeout queue; the
// dispatched attempt itself (outstanding entry and permit) is resolved
// on the cancel/timeout dispatch path, not inside the timer goroutine.
type timeoutBag struct {
	mu sync.Mutex

	mgr *Manager
	id  contracts.ExecutingLAID

	// scheduleToCloseResolution is built once, at admission, from the
	// schedule record's own attempt and schedule time. It is reused
	// unchanged whenever the schedule-to-close timer fires, regardless of
	// whether the activity has since been dispatched: the attempt and
	// schedule time of the *original* admission are what the resolution
	// reports, not whatever happens to be in outstanding-activity state
	// when the timer goroutine runs.
	scheduleToCloseResolution Resolution

	scheduleTimer *time.Timer

	startTimer      *time.Timer
	startToClose    time.Duration
	hasStartToClose bool

	stopped bool
}

// newTimeoutBag builds the timeout bag for a freshly admitted schedule
// record. If the schedule-to-close timeout is already exhausted at
// admission (the configured duration minus the time elapsed since
// rec.ScheduleTime is non-positive), it returns a nil bag and the
// immediate resolution instead of arming anything.
func newTimeoutBag(m *Manager, rec ScheduleRecord) (*timeoutBag, *Resolution) {
	scheduleToClose, startToClose, hasSchedule, hasStart := rec.CloseTimeouts.Resolve()

	resolution := Resolution{
		Seq:                  rec.ID.SeqNum,
		Result:               ExecutionResult{Kind: ResultTimedOut, TimeoutType: TimeoutScheduleToClose},
		Attempt:              rec.initialAttempt(),
		OriginalScheduleTime: ptrTime(rec.ScheduleTime),
	}

	// Schedule-to-close is measured from the original schedule_time, not
	// from admission: elapsed time already spent (e.g. queueing delay
	// before the record reached the manager) is subtracted from the
	// configured timeout before the timer is armed.
	remaining := scheduleToClose
	if hasSchedule {
		remaining -= time.Since(rec.ScheduleTime)
		if remaining <= 0 {
			return nil, &resolution
		}
	}

	tb := &timeoutBag{mgr: m, id: rec.ID, startToClose: startToClose, hasStartToClose: hasStart, scheduleToCloseResolution: resolution}
	if hasSchedule {
		id := rec.ID
		tb.scheduleTimer = time.AfterFunc(remaining, func() { m.handleScheduleToCloseFired(id) })
	}
	return tb, nil
}

// markStarted (re)arms the start-to-close timer for the attempt that was
// just dispatched. Each attempt gets a fresh start-to-close window; the
// schedule-to-close timer set at admission is untouched.
func (tb *timeoutBag) markStarted() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if !tb.hasStartToClose || tb.stopped {
		return
	}
	if tb.startTimer != nil {
		tb.startTimer.Stop()
	}
	id := tb.id
	mgr := tb.mgr
	tb.startTimer = time.AfterFunc(tb.startToClose, func() { mgr.handleStartToCloseFired(id) })
}

// stop cancels any armed timers. Called once the activity reaches a
// terminal resolution.
func (tb *timeoutBag) stop() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.stopped = true
	if tb.scheduleTimer != nil {
		tb.scheduleTimer.Stop()
	}
	if tb.startTimer != nil {
		tb.startTimer.Stop()
	}
}
