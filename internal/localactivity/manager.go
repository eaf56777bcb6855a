// Package localactivity implements the dispatch core described in
// section 4 of the local activity manager design: admission/idempotency,
// permit-based concurrency limiting, a two-queue priority multiplexer
// between new/retry work and cancels/timeouts, and the schedule-to-start,
// start-to-close, and schedule-to-close timeout categories.
//
// A Manager owns no goroutine that runs user code; it hands ActivityTask
// values to whatever executor loop calls NextPending, and only learns an
// attempt finished when that executor calls Complete.
package localactivity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/runtimelab/lam/config"
	"github.com/runtimelab/lam/contracts"
	"github.com/runtimelab/lam/internal/auditlog"
	"github.com/runtimelab/lam/internal/retrypolicy"
)

// RetryPolicyFunc is the should_retry collaborator: given the attempt
// that just failed and information about the failure, it returns the
// backoff before the next attempt, or false if the activity should not
// be retried. The manager treats this as an opaque function value: it
// has no dependency on how the decision is made, only on its shape.
type RetryPolicyFunc func(attempt int, failure retrypolicy.FailureInfo) (time.Duration, bool)

type itemKind int

const (
	itemNew itemKind = iota
	itemRetry
)

type newOrRetryItem struct {
	kind    itemKind
	record  ScheduleRecord
	attempt uint32 // meaningful only when kind == itemRetry
}

type newReadyItem struct {
	item   newOrRetryItem
	permit *OwnedPermit
}

type cancelItemKind int

const (
	itemCancel cancelItemKind = iota
	itemTimeout
)

type timeoutEvent struct {
	id             contracts.ExecutingLAID
	dispatchCancel bool
	resolution     Resolution
	token          TaskToken
}

type cancelOrTimeoutItem struct {
	kind    cancelItemKind
	cancel  CancelDispatch
	timeout timeoutEvent
}

// managerData is every piece of mutable state guarded by Manager.mu. It
// mirrors the Mutex<LocalActivityManagerData> split from the reference
// design: everything the admission and completion paths touch lives
// behind one lock so neither can observe the other mid-transition.
type managerData struct {
	tokens       tokenGenerator
	tokenByID    map[contracts.ExecutingLAID]TaskToken
	outstanding  map[TaskToken]*InFlightInfo
	timeoutTasks map[contracts.ExecutingLAID]*timeoutBag
	backoffTasks map[contracts.ExecutingLAID]context.CancelFunc
}

func newManagerData() *managerData {
	return &managerData{
		tokenByID:    make(map[contracts.ExecutingLAID]TaskToken),
		outstanding:  make(map[TaskToken]*InFlightInfo),
		timeoutTasks: make(map[contracts.ExecutingLAID]*timeoutBag),
		backoffTasks: make(map[contracts.ExecutingLAID]context.CancelFunc),
	}
}

// CompleteActionKind tells the caller of Complete what, if anything, it
// still needs to do.
type CompleteActionKind int

const (
	// ActionReport means the activity reached a terminal state; the
	// caller should surface Resolution to the owning workflow.
	ActionReport CompleteActionKind = iota
	// ActionWillBeRetried means the manager scheduled the next attempt
	// itself; no workflow-visible resolution exists yet.
	ActionWillBeRetried
	// ActionLangDoesTimerBackoff means the failure is retryable but the
	// backoff exceeds the local retry threshold: the caller must
	// surface Resolution.Backoff to the workflow so a durable timer,
	// not this manager, schedules the retry.
	ActionLangDoesTimerBackoff
	// ActionUntracked means the token was already completed, cancelled,
	// or never existed; Complete is a no-op.
	ActionUntracked
)

// CompleteAction is the result of Complete.
type CompleteAction struct {
	Kind       CompleteActionKind
	Resolution Resolution
}

// Manager is the local activity dispatch core. The zero value is not
// usable; construct with NewManager.
type Manager struct {
	namespace           string
	maxConcurrent       int
	localRetryThreshold time.Duration
	shouldRetry         RetryPolicyFunc
	logger              zerolog.Logger
	audit               auditlog.Log

	mu  sync.Mutex
	dat *managerData

	sem *permitSemaphore

	newRetryQueue *unboundedQueue[newOrRetryItem]
	cancelQueue   *unboundedQueue[cancelOrTimeoutItem]
	newReadyCh    chan newReadyItem

	recvMu sync.Mutex // serializes NextPending callers, matching single-consumer use

	closeCtx    context.Context
	closeCancel context.CancelFunc

	completeNotify chan struct{}
	shutdownOnce   sync.Once
	shutdownDone   chan struct{}
}

// NewManager builds a Manager from validated configuration. cfg should
// already have passed config.Validator.Validate.
func NewManager(cfg config.LAMConfig, shouldRetry RetryPolicyFunc, logger zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		namespace:           cfg.Namespace,
		maxConcurrent:       cfg.MaxConcurrent,
		localRetryThreshold: cfg.LocalRetryThreshold(),
		shouldRetry:         shouldRetry,
		logger:              logger.With().Str("component", "localactivity.Manager").Logger(),
		audit:               auditlog.New(logger),
		dat:                 newManagerData(),
		sem:                 newPermitSemaphore(cfg.MaxConcurrent),
		newRetryQueue:       newUnboundedQueue[newOrRetryItem](),
		cancelQueue:         newUnboundedQueue[cancelOrTimeoutItem](),
		newReadyCh:          make(chan newReadyItem),
		closeCtx:            ctx,
		closeCancel:         cancel,
		completeNotify:      make(chan struct{}, 1),
		shutdownDone:        make(chan struct{}),
	}
	go m.feedLoop()
	return m
}

// feedLoop is the manager's one long-lived goroutine. It acquires a
// dispatch permit and dequeues the next new-or-retry item as a single
// atomic step from NextPending's perspective: nothing observable happens
// between "permit acquired" and "item hand-off ready", so a caller
// cancelling NextPending never leaves the manager holding a permit with
// no corresponding queued work.
func (m *Manager) feedLoop() {
	for {
		permit, err := m.sem.acquire(m.closeCtx)
		if err != nil {
			return
		}
		item, ok := m.newRetryQueue.recv(m.closeCtx)
		if !ok {
			permit.Release()
			return
		}
		select {
		case m.newReadyCh <- newReadyItem{item: item, permit: permit}:
		case <-m.closeCtx.Done():
			permit.Release()
			return
		}
	}
}

// Enqueue admits a new local activity. Enqueuing an id that is already
// admitted (queued, dispatched, or backing off) is a silent no-op and
// returns (Resolution{}, false).
//
// An immediate Resolution (second result true) is returned when the
// activity fails at admission (a schedule-to-close timeout that was
// already exhausted when it reached the manager), or as Cancelled when
// the manager has already been shut down; otherwise the activity has been
// queued and Enqueue returns (Resolution{}, false).
func (m *Manager) Enqueue(rec ScheduleRecord) (Resolution, bool) {
	if m.closeCtx.Err() != nil {
		m.logger.Debug().Err(errShuttingDown).Stringer("id", rec.ID).Msg("enqueue rejected")
		return Resolution{
			Seq:                  rec.ID.SeqNum,
			Result:               ExecutionResult{Kind: ResultCancelled},
			Attempt:              1,
			OriginalScheduleTime: ptrTime(rec.ScheduleTime),
		}, true
	}

	m.mu.Lock()

	if _, exists := m.dat.tokenByID[rec.ID]; exists {
		m.mu.Unlock()
		m.logger.Debug().Stringer("id", rec.ID).Msg("duplicate enqueue ignored")
		return Resolution{}, false
	}

	token := m.dat.tokens.next()
	m.dat.tokenByID[rec.ID] = token

	tb, immediate := newTimeoutBag(m, rec)
	if immediate != nil {
		// Invariant: token_by_id only holds ids that are queued,
		// dispatched, or backing off. This id never reaches any of
		// those states, so the speculative entry above is withdrawn
		// rather than left to dangle.
		delete(m.dat.tokenByID, rec.ID)
		m.mu.Unlock()
		m.audit.AdmissionRejected(rec.ID, "schedule_to_close_exhausted")
		return *immediate, true
	}
	m.dat.timeoutTasks[rec.ID] = tb
	m.mu.Unlock()

	m.audit.Admitted(rec.ID, rec.ActivityType)
	m.newRetryQueue.push(newOrRetryItem{kind: itemNew, record: rec})
	return Resolution{}, false
}

// Cancel requests cancellation of an admitted local activity. If the
// activity is currently backing off between attempts, the pending retry
// is cancelled and a Cancelled resolution is returned immediately. If it
// is queued or dispatched, the cancel is forwarded onto the priority
// queue so NextPending observes it ahead of any pending new/retry work,
// and (Resolution{}, false) is returned; the eventual resolution
// reaches the caller through the normal NextPending/Complete flow.
func (m *Manager) Cancel(id contracts.ExecutingLAID) (Resolution, bool) {
	m.mu.Lock()
	if cancelBackoff, backingOff := m.dat.backoffTasks[id]; backingOff {
		cancelBackoff()
		delete(m.dat.backoffTasks, id)
		delete(m.dat.tokenByID, id)
		if tb, ok := m.dat.timeoutTasks[id]; ok {
			tb.stop()
			delete(m.dat.timeoutTasks, id)
		}
		m.mu.Unlock()
		m.audit.Cancelled(id, true)
		return Resolution{
			Seq:    id.SeqNum,
			Result: ExecutionResult{Kind: ResultCancelled},
		}, true
	}

	token, known := m.dat.tokenByID[id]
	m.mu.Unlock()
	if !known {
		return Resolution{}, false
	}
	m.audit.Cancelled(id, false)
	m.cancelQueue.push(cancelOrTimeoutItem{
		kind:   itemCancel,
		cancel: CancelDispatch{Token: token, Reason: ReasonCancelled},
	})
	return Resolution{}, false
}

// NextPending blocks until there is work for the executor or ctx is
// done, in which case it returns nil. Cancels and timeouts always win
// ties against new/retry dispatch, matching the documented priority
// order.
func (m *Manager) NextPending(ctx context.Context) *DispatchOrTimeout {
	m.recvMu.Lock()
	defer m.recvMu.Unlock()

	for {
		if item, ok := m.cancelQueue.tryPop(); ok {
			if dt := m.handleCancelOrTimeout(item); dt != nil {
				return dt
			}
			continue
		}

		select {
		case <-m.cancelQueue.notifyChan():
			continue
		case nr := <-m.newReadyCh:
			if dt := m.handleNewOrRetry(nr); dt != nil {
				return dt
			}
			continue
		case <-m.shutdownDone:
			if item, ok := m.cancelQueue.tryPop(); ok {
				if dt := m.handleCancelOrTimeout(item); dt != nil {
					return dt
				}
				continue
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Manager) handleNewOrRetry(nr newReadyItem) *DispatchOrTimeout {
	rec := nr.item.record
	var attempt uint32
	switch nr.item.kind {
	case itemRetry:
		attempt = nr.item.attempt
	default:
		attempt = rec.initialAttempt()
	}

	m.mu.Lock()
	delete(m.dat.backoffTasks, rec.ID)

	token, ok := m.dat.tokenByID[rec.ID]
	if !ok {
		// Superseded: a schedule-to-close timeout (or a cancel racing
		// a retry re-enqueue) already resolved this id. The permit
		// this item was holding is simply given back; no resolution
		// is emitted here since the superseding path already emitted
		// one.
		m.mu.Unlock()
		nr.permit.Release()
		return nil
	}

	if rec.ScheduleToStart > 0 {
		elapsed := time.Since(rec.ScheduleTime)
		if elapsed > rec.ScheduleToStart {
			if tb, ok := m.dat.timeoutTasks[rec.ID]; ok {
				tb.stop()
				delete(m.dat.timeoutTasks, rec.ID)
			}
			delete(m.dat.tokenByID, rec.ID)
			m.mu.Unlock()
			nr.permit.Release()
			m.audit.TimedOut(rec.ID, TimeoutScheduleToStart.String(), attempt)
			return &DispatchOrTimeout{
				Kind: KindTimeout,
				Timeout: &TimeoutNotice{
					RunID: rec.ID.RunID,
					Resolution: Resolution{
						Seq:                  rec.ID.SeqNum,
						Result:               ExecutionResult{Kind: ResultTimedOut, TimeoutType: TimeoutScheduleToStart},
						Runtime:              elapsed,
						Attempt:              attempt,
						OriginalScheduleTime: ptrTime(rec.ScheduleTime),
					},
				},
			}
		}
	}

	info := &InFlightInfo{Record: rec, DispatchTime: time.Now(), Attempt: attempt, permit: nr.permit}
	m.dat.outstanding[token] = info
	if tb, ok := m.dat.timeoutTasks[rec.ID]; ok {
		tb.markStarted()
	}
	m.mu.Unlock()
	m.audit.Dispatched(rec.ID, attempt)

	scheduleToClose, startToClose, hasSchedule, hasStart := rec.CloseTimeouts.Resolve()
	now := time.Now()
	start := &ActivityTaskStart{
		WorkflowNamespace:           m.namespace,
		WorkflowType:                rec.WorkflowType,
		WorkflowExecution:           rec.WorkflowExecution,
		ActivityID:                  rec.ActivityID,
		ActivityType:                rec.ActivityType,
		Headers:                     rec.Headers,
		Input:                       rec.Input,
		ScheduledTime:               rec.ScheduleTime,
		CurrentAttemptScheduledTime: rec.ScheduleTime,
		StartedTime:                 now,
		Attempt:                     attempt,
		HasScheduleToCloseTimeout:   hasSchedule,
		ScheduleToCloseTimeout:      scheduleToClose,
		HasStartToCloseTimeout:      hasStart,
		StartToCloseTimeout:         startToClose,
		RetryPolicy:                 rec.RetryPolicy,
		IsLocal:                     true,
	}
	return &DispatchOrTimeout{
		Kind:     KindDispatch,
		Dispatch: &ActivityTask{TaskToken: token, Variant: ActivityTaskVariantStart, Start: start},
	}
}

func (m *Manager) handleCancelOrTimeout(item cancelOrTimeoutItem) *DispatchOrTimeout {
	if item.kind == itemCancel {
		return &DispatchOrTimeout{
			Kind: KindDispatch,
			Dispatch: &ActivityTask{
				TaskToken: item.cancel.Token,
				Variant:   ActivityTaskVariantCancel,
				Cancel:    &ActivityTaskCancel{Reason: item.cancel.Reason},
			},
		}
	}

	ev := item.timeout
	var task *ActivityTask
	if ev.dispatchCancel {
		if action := m.Complete(ev.token, ev.resolution.Result); action.Kind != ActionUntracked {
			task = &ActivityTask{
				TaskToken: ev.token,
				Variant:   ActivityTaskVariantCancel,
				Cancel:    &ActivityTaskCancel{Reason: ReasonTimedOut},
			}
		}
	}
	return &DispatchOrTimeout{
		Kind:    KindTimeout,
		Timeout: &TimeoutNotice{RunID: ev.id.RunID, Resolution: ev.resolution, Task: task},
	}
}

// handleScheduleToCloseFired runs on the timer goroutine created by
// newTimeoutBag. Under m.mu it cancels any pending local retry and
// removes the id from tokenByID and timeoutTasks; it never touches
// outstanding, so releasing a dispatched attempt's permit is left to
// handleCancelOrTimeout on the queue-draining path.
//
// The resolution it emits is the one newTimeoutBag built at admission
// time, unchanged: an activity that times out while still queued (never
// dispatched, e.g. max_concurrent exhausted) has no InFlightInfo to read
// an attempt or schedule time from, so those fields always come from the
// bag, never from outstanding-activity state.
func (m *Manager) handleScheduleToCloseFired(id contracts.ExecutingLAID) {
	m.mu.Lock()
	if cancelBackoff, ok := m.dat.backoffTasks[id]; ok {
		cancelBackoff()
		delete(m.dat.backoffTasks, id)
	}

	token, hasToken := m.dat.tokenByID[id]
	var resolution Resolution
	dispatchCancel := false
	if hasToken {
		if tb, ok := m.dat.timeoutTasks[id]; ok {
			resolution = tb.scheduleToCloseResolution
		}
		if _, dispatched := m.dat.outstanding[token]; dispatched {
			dispatchCancel = true
		}
	}
	delete(m.dat.tokenByID, id)
	delete(m.dat.timeoutTasks, id)
	m.mu.Unlock()

	if !hasToken {
		return
	}
	m.audit.TimedOut(id, TimeoutScheduleToClose.String(), resolution.Attempt)

	m.cancelQueue.push(cancelOrTimeoutItem{
		kind: itemTimeout,
		timeout: timeoutEvent{
			id:             id,
			dispatchCancel: dispatchCancel,
			token:          token,
			resolution:     resolution,
		},
	})
}

// handleStartToCloseFired runs on the timer goroutine armed by
// timeoutBag.markStarted. It only ever fires for an activity that is
// currently dispatched.
func (m *Manager) handleStartToCloseFired(id contracts.ExecutingLAID) {
	m.mu.Lock()
	token, hasToken := m.dat.tokenByID[id]
	var attempt uint32
	var scheduleTime time.Time
	if hasToken {
		if info, ok := m.dat.outstanding[token]; ok {
			attempt = info.Attempt
			scheduleTime = info.Record.ScheduleTime
		} else {
			hasToken = false
		}
	}
	delete(m.dat.timeoutTasks, id)
	m.mu.Unlock()

	if !hasToken {
		return
	}
	m.audit.TimedOut(id, TimeoutStartToClose.String(), attempt)

	m.cancelQueue.push(cancelOrTimeoutItem{
		kind: itemTimeout,
		timeout: timeoutEvent{
			id:             id,
			dispatchCancel: true,
			token:          token,
			resolution: Resolution{
				Seq:                  id.SeqNum,
				Result:               ExecutionResult{Kind: ResultTimedOut, TimeoutType: TimeoutStartToClose},
				Attempt:              attempt,
				OriginalScheduleTime: ptrTime(scheduleTime),
			},
		},
	})
}

// Complete reports the outcome of one dispatched attempt. It is a no-op
// returning ActionUntracked if token is not currently outstanding; this
// happens when a timeout already resolved the activity and the executor's
// own completion arrives afterward.
func (m *Manager) Complete(token TaskToken, result ExecutionResult) CompleteAction {
	m.mu.Lock()
	info, ok := m.dat.outstanding[token]
	if !ok {
		m.mu.Unlock()
		m.audit.UntrackedCompletion(token.String())
		return CompleteAction{Kind: ActionUntracked}
	}
	delete(m.dat.outstanding, token)
	id := info.Record.ID
	delete(m.dat.tokenByID, id)

	switch result.Kind {
	case ResultFailed:
		return m.completeFailed(info, result)
	default:
		if tb, ok := m.dat.timeoutTasks[id]; ok {
			tb.stop()
			delete(m.dat.timeoutTasks, id)
		}
		m.mu.Unlock()
		info.permit.Release()
		m.notifyComplete()
		runtime := time.Since(info.DispatchTime)
		m.audit.Completed(id, info.Attempt, runtime)
		return CompleteAction{
			Kind: ActionReport,
			Resolution: Resolution{
				Seq:     id.SeqNum,
				Result:  result,
				Runtime: runtime,
				Attempt: info.Attempt,
			},
		}
	}
}

// completeFailed is called with m.mu held; it unlocks on every path.
func (m *Manager) completeFailed(info *InFlightInfo, result ExecutionResult) CompleteAction {
	id := info.Record.ID
	backoff, retry := m.shouldRetry(int(info.Attempt), result.Failure)
	runtime := time.Since(info.DispatchTime)

	if !retry {
		if tb, ok := m.dat.timeoutTasks[id]; ok {
			tb.stop()
			delete(m.dat.timeoutTasks, id)
		}
		m.mu.Unlock()
		info.permit.Release()
		m.notifyComplete()
		m.audit.Completed(id, info.Attempt, runtime)
		return CompleteAction{
			Kind: ActionReport,
			Resolution: Resolution{
				Seq:     id.SeqNum,
				Result:  result,
				Runtime: runtime,
				Attempt: info.Attempt,
			},
		}
	}

	threshold := info.Record.localRetryThreshold(m.localRetryThreshold)
	if backoff > threshold {
		// Timeout bag is left in place and schedule-to-close keeps
		// ticking, but tokenByID no longer holds the id, so a firing
		// before the workflow re-enqueues it emits no timeout.
		m.mu.Unlock()
		info.permit.Release()
		m.notifyComplete()
		m.audit.DelegatedToTimer(id, info.Attempt, backoff)
		return CompleteAction{
			Kind: ActionLangDoesTimerBackoff,
			Resolution: Resolution{
				Seq:     id.SeqNum,
				Result:  result,
				Runtime: runtime,
				Attempt: info.Attempt,
				Backoff: ptrDuration(backoff),
			},
		}
	}

	newToken := m.dat.tokens.next()
	m.dat.tokenByID[id] = newToken
	backoffCtx, cancelBackoff := context.WithCancel(m.closeCtx)
	m.dat.backoffTasks[id] = cancelBackoff
	rec := info.Record
	nextAttempt := info.Attempt + 1
	m.mu.Unlock()

	info.permit.Release()
	m.notifyComplete()
	m.audit.Retrying(id, nextAttempt, backoff)

	go func() {
		timer := time.NewTimer(backoff)
		defer timer.Stop()
		select {
		case <-timer.C:
			m.newRetryQueue.push(newOrRetryItem{kind: itemRetry, record: rec, attempt: nextAttempt})
		case <-backoffCtx.Done():
		}
	}()

	return CompleteAction{Kind: ActionWillBeRetried}
}

func (m *Manager) notifyComplete() {
	select {
	case m.completeNotify <- struct{}{}:
	default:
	}
}

// NumOutstanding reports how many activities are currently dispatched.
func (m *Manager) NumOutstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dat.outstanding)
}

// NumAdmitted reports how many activities are queued, dispatched, or
// backing off, i.e. the size of token_by_id.
func (m *Manager) NumAdmitted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dat.tokenByID)
}

// NumInBackoff reports how many activities are currently waiting on a
// local retry timer. Introspection-only, mirroring the Rust source's
// num_in_backoff test accessor.
func (m *Manager) NumInBackoff() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dat.backoffTasks)
}

// ShutdownAndWaitAllFinished blocks until every outstanding activity has
// called Complete, or ctx is done; admission and dispatch continue while
// it waits. Once the in-flight set is empty it stops the manager:
// NextPending returns nil and later Enqueue calls resolve as Cancelled.
// Activities still queued or backing off are not forcibly resolved: per
// the documented drain semantics, shutdown waits the in-flight set empty
// rather than aborting it.
func (m *Manager) ShutdownAndWaitAllFinished(ctx context.Context) error {
	for {
		m.mu.Lock()
		n := len(m.dat.outstanding)
		m.mu.Unlock()
		if n == 0 {
			break
		}
		select {
		case <-m.completeNotify:
		case <-ctx.Done():
			return fmt.Errorf("localactivity: shutdown wait: %w", ctx.Err())
		}
	}
	m.shutdownOnce.Do(func() {
		close(m.shutdownDone)
		m.closeCancel()
	})
	return nil
}
