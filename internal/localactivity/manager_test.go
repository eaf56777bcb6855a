package localactivity

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/runtimelab/lam/config"
	"github.com/runtimelab/lam/contracts"
	"github.com/runtimelab/lam/internal/retrypolicy"
)

func testManager(t *testing.T, maxConcurrent int, policy RetryPolicyFunc) *Manager {
	t.Helper()
	cfg := config.LAMConfig{
		Namespace:             "test-ns",
		MaxConcurrent:         maxConcurrent,
		LocalRetryThresholdMs: 5000,
	}
	if policy == nil {
		policy = func(attempt int, failure retrypolicy.FailureInfo) (time.Duration, bool) {
			return 0, false
		}
	}
	return NewManager(cfg, policy, zerolog.Nop())
}

func newRecord(id contracts.ExecutingLAID) ScheduleRecord {
	return ScheduleRecord{
		ID:           id,
		ActivityID:   id.String(),
		ActivityType: "TestActivity",
		ScheduleTime: time.Now(),
	}
}

func dequeue(t *testing.T, m *Manager) *DispatchOrTimeout {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	dt := m.NextPending(ctx)
	if dt == nil {
		t.Fatal("NextPending() = nil, want a dispatch")
	}
	return dt
}

func TestManager_Idempotency(t *testing.T) {
	m := testManager(t, 10, nil)
	id := contracts.ExecutingLAID{RunID: "run-1", SeqNum: 1}

	if res, immediate := m.Enqueue(newRecord(id)); immediate {
		t.Fatalf("first Enqueue() returned immediate resolution %+v", res)
	}
	if res, immediate := m.Enqueue(newRecord(id)); immediate {
		t.Fatalf("duplicate Enqueue() returned immediate resolution %+v", res)
	}

	dt := dequeue(t, m)
	if dt.Kind != KindDispatch || dt.Dispatch.Variant != ActivityTaskVariantStart {
		t.Fatalf("unexpected dispatch: %+v", dt)
	}
	if got := m.NumOutstanding(); got != 1 {
		t.Fatalf("NumOutstanding() = %d, want 1", got)
	}

	if res, immediate := m.Enqueue(newRecord(id)); immediate {
		t.Fatalf("post-dispatch Enqueue() returned immediate resolution %+v", res)
	}
	if got := m.NumOutstanding(); got != 1 {
		t.Fatalf("NumOutstanding() after third enqueue = %d, want 1", got)
	}

	if _, ok := m.newRetryQueue.tryPop(); ok {
		t.Fatal("new/retry queue should be empty after the duplicate enqueues")
	}
}

func TestManager_MaxConcurrentRespected(t *testing.T) {
	m := testManager(t, 1, nil)

	for i := uint32(1); i <= 3; i++ {
		id := contracts.ExecutingLAID{RunID: "run-1", SeqNum: contracts.SeqNum(i)}
		if _, immediate := m.Enqueue(newRecord(id)); immediate {
			t.Fatalf("Enqueue(%d) returned an unexpected immediate resolution", i)
		}
	}

	first := dequeue(t, m)
	if first.Dispatch.Start.ActivityID != (contracts.ExecutingLAID{RunID: "run-1", SeqNum: 1}).String() {
		t.Fatalf("unexpected first dispatch: %+v", first.Dispatch.Start)
	}

	secondDone := make(chan *DispatchOrTimeout, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		secondDone <- m.NextPending(ctx)
	}()

	select {
	case dt := <-secondDone:
		if dt != nil {
			t.Fatalf("second NextPending resolved before permit was freed: %+v", dt)
		}
	case <-time.After(250 * time.Millisecond):
		t.Fatal("second NextPending goroutine never returned")
	}

	action := m.Complete(first.Dispatch.TaskToken, ExecutionResult{Kind: ResultCompleted})
	if action.Kind != ActionReport {
		t.Fatalf("Complete() action = %v, want ActionReport", action.Kind)
	}

	second := dequeue(t, m)
	if second.Dispatch.Start.ActivityID != (contracts.ExecutingLAID{RunID: "run-1", SeqNum: 2}).String() {
		t.Fatalf("unexpected second dispatch: %+v", second.Dispatch.Start)
	}
}

func TestManager_CancelInFlight(t *testing.T) {
	m := testManager(t, 5, nil)
	id := contracts.ExecutingLAID{RunID: "run_id", SeqNum: 1}
	m.Enqueue(newRecord(id))

	dt := dequeue(t, m)
	token := dt.Dispatch.TaskToken

	if res, immediate := m.Cancel(id); immediate {
		t.Fatalf("Cancel() of a dispatched activity returned an immediate resolution %+v", res)
	}

	cancelDt := dequeue(t, m)
	if cancelDt.Kind != KindDispatch || cancelDt.Dispatch.Variant != ActivityTaskVariantCancel {
		t.Fatalf("unexpected dispatch after cancel: %+v", cancelDt)
	}
	if cancelDt.Dispatch.TaskToken != token {
		t.Fatal("cancel dispatch carries the wrong token")
	}
	if cancelDt.Dispatch.Cancel.Reason != ReasonCancelled {
		t.Fatalf("cancel reason = %v, want ReasonCancelled", cancelDt.Dispatch.Cancel.Reason)
	}
	if got := m.NumOutstanding(); got != 1 {
		t.Fatalf("NumOutstanding() = %d, want 1 (cancel does not resolve on its own)", got)
	}

	m.Complete(token, ExecutionResult{Kind: ResultCancelled})
	if got := m.NumOutstanding(); got != 0 {
		t.Fatalf("NumOutstanding() after Complete = %d, want 0", got)
	}
}

func TestManager_CancelDuringBackoffRoundTrip(t *testing.T) {
	policy := func(attempt int, failure retrypolicy.FailureInfo) (time.Duration, bool) {
		return 50 * time.Millisecond, true
	}
	m := testManager(t, 5, policy)
	id := contracts.ExecutingLAID{RunID: "run-1", SeqNum: 1}
	m.Enqueue(newRecord(id))

	dt := dequeue(t, m)
	action := m.Complete(dt.Dispatch.TaskToken, ExecutionResult{Kind: ResultFailed})
	if action.Kind != ActionWillBeRetried {
		t.Fatalf("Complete() action = %v, want ActionWillBeRetried", action.Kind)
	}
	if got := m.NumInBackoff(); got != 1 {
		t.Fatalf("NumInBackoff() = %d, want 1", got)
	}

	res, immediate := m.Cancel(id)
	if !immediate {
		t.Fatal("Cancel() during backoff should resolve immediately")
	}
	if res.Result.Kind != ResultCancelled {
		t.Fatalf("Cancel() result kind = %v, want ResultCancelled", res.Result.Kind)
	}
	if got := m.NumOutstanding(); got != 0 {
		t.Fatalf("NumOutstanding() = %d, want 0", got)
	}
	if got := m.NumAdmitted(); got != 0 {
		t.Fatalf("NumAdmitted() = %d, want 0 after cancel-during-backoff", got)
	}
	if got := m.NumInBackoff(); got != 0 {
		t.Fatalf("NumInBackoff() = %d, want 0 after cancel-during-backoff", got)
	}

	// The backoff timer was still running; give it a chance to fire and
	// confirm it does not resurrect the cancelled activity.
	time.Sleep(100 * time.Millisecond)
	if got := m.NumAdmitted(); got != 0 {
		t.Fatalf("NumAdmitted() after backoff window = %d, want 0", got)
	}
}

func TestManager_TimerBackoffThreshold(t *testing.T) {
	rp := retrypolicy.New(config.RetryPolicyConfig{
		InitialIntervalMs:  1000,
		BackoffCoefficient: 10,
		MaxIntervalMs:      10000,
		MaxAttempts:        10,
	})
	cfg := config.LAMConfig{Namespace: "ns", MaxConcurrent: 5, LocalRetryThresholdMs: 5000}
	m := NewManager(cfg, rp.ShouldRetry, zerolog.Nop())

	id := contracts.ExecutingLAID{RunID: "run-1", SeqNum: 1}
	rec := newRecord(id)
	rec.Attempt = 5
	m.Enqueue(rec)

	dt := dequeue(t, m)
	if dt.Dispatch.Start.Attempt != 5 {
		t.Fatalf("dispatched attempt = %d, want 5", dt.Dispatch.Start.Attempt)
	}

	action := m.Complete(dt.Dispatch.TaskToken, ExecutionResult{Kind: ResultFailed})
	if action.Kind != ActionLangDoesTimerBackoff {
		t.Fatalf("Complete() action = %v, want ActionLangDoesTimerBackoff", action.Kind)
	}
	if action.Resolution.Backoff == nil || *action.Resolution.Backoff != 10*time.Second {
		t.Fatalf("backoff = %v, want 10s", action.Resolution.Backoff)
	}
	if action.Resolution.Attempt != 5 {
		t.Fatalf("resolution attempt = %d, want 5", action.Resolution.Attempt)
	}
}

func TestManager_NonRetryableType(t *testing.T) {
	rp := retrypolicy.New(config.RetryPolicyConfig{
		InitialIntervalMs:  1000,
		BackoffCoefficient: 10,
		MaxIntervalMs:      10000,
		MaxAttempts:        10,
		NonRetryableTypes:  []string{"TestError"},
	})
	cfg := config.LAMConfig{Namespace: "ns", MaxConcurrent: 5, LocalRetryThresholdMs: 5000}
	m := NewManager(cfg, rp.ShouldRetry, zerolog.Nop())

	id := contracts.ExecutingLAID{RunID: "run-1", SeqNum: 1}
	m.Enqueue(newRecord(id))
	dt := dequeue(t, m)

	action := m.Complete(dt.Dispatch.TaskToken, ExecutionResult{
		Kind:    ResultFailed,
		Failure: retrypolicy.FailureInfo{Type: "TestError"},
	})
	if action.Kind != ActionReport {
		t.Fatalf("Complete() action = %v, want ActionReport for a non-retryable type", action.Kind)
	}
}

func TestManager_ScheduleToStartTimeout(t *testing.T) {
	m := testManager(t, 5, nil)
	id := contracts.ExecutingLAID{RunID: "run-1", SeqNum: 1}
	rec := newRecord(id)
	rec.ScheduleToStart = 100 * time.Millisecond
	rec.ScheduleTime = time.Now().Add(-110 * time.Millisecond)
	m.Enqueue(rec)

	dt := dequeue(t, m)
	if dt.Kind != KindTimeout {
		t.Fatalf("unexpected dispatch kind: %v, want KindTimeout", dt.Kind)
	}
	if dt.Timeout.Resolution.Result.TimeoutType != TimeoutScheduleToStart {
		t.Fatalf("timeout type = %v, want TimeoutScheduleToStart", dt.Timeout.Resolution.Result.TimeoutType)
	}
	if got := m.NumOutstanding(); got != 0 {
		t.Fatalf("NumOutstanding() = %d, want 0", got)
	}
	if got := m.NumAdmitted(); got != 0 {
		t.Fatalf("NumAdmitted() = %d, want 0", got)
	}
}

func TestManager_ScheduleToCloseExhaustedAtAdmission(t *testing.T) {
	m := testManager(t, 5, nil)
	id := contracts.ExecutingLAID{RunID: "run-1", SeqNum: 1}
	rec := newRecord(id)
	rec.CloseTimeouts = CloseTimeoutPolicy{Kind: CloseTimeoutScheduleOnly, ScheduleToClose: 0}

	res, immediate := m.Enqueue(rec)
	if !immediate {
		t.Fatal("Enqueue() with an already-exhausted schedule-to-close should resolve immediately")
	}
	if res.Result.Kind != ResultTimedOut || res.Result.TimeoutType != TimeoutScheduleToClose {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if got := m.NumAdmitted(); got != 0 {
		t.Fatalf("NumAdmitted() = %d, want 0; the id must never be left registered", got)
	}
}

func TestManager_CancelPriorityOverNewWork(t *testing.T) {
	m := testManager(t, 5, nil)
	inFlight := contracts.ExecutingLAID{RunID: "run-1", SeqNum: 1}
	m.Enqueue(newRecord(inFlight))
	dt := dequeue(t, m)

	pending := contracts.ExecutingLAID{RunID: "run-1", SeqNum: 2}
	m.Enqueue(newRecord(pending))
	m.Cancel(inFlight)

	// Give the feeder goroutine a moment to have both a ready cancel and a
	// ready new-work item pending before the next NextPending call.
	time.Sleep(20 * time.Millisecond)

	next := dequeue(t, m)
	if next.Kind != KindDispatch || next.Dispatch.Variant != ActivityTaskVariantCancel {
		t.Fatalf("next_pending with both ready should prefer cancel, got %+v", next)
	}
	if next.Dispatch.TaskToken != dt.Dispatch.TaskToken {
		t.Fatal("cancel dispatch carries the wrong token")
	}
}

func TestManager_ShutdownDrainsOutstanding(t *testing.T) {
	m := testManager(t, 5, nil)
	id := contracts.ExecutingLAID{RunID: "run-1", SeqNum: 1}
	m.Enqueue(newRecord(id))
	dt := dequeue(t, m)

	done := make(chan error, 1)
	go func() {
		done <- m.ShutdownAndWaitAllFinished(context.Background())
	}()

	select {
	case err := <-done:
		t.Fatalf("shutdown finished before outstanding work completed: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.Complete(dt.Dispatch.TaskToken, ExecutionResult{Kind: ResultCompleted})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ShutdownAndWaitAllFinished() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("shutdown did not complete after outstanding work finished")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if dt := m.NextPending(ctx); dt != nil {
		t.Fatalf("NextPending() after shutdown = %+v, want nil", dt)
	}
}

func TestManager_EnqueueAfterShutdownRejected(t *testing.T) {
	m := testManager(t, 5, nil)

	if err := m.ShutdownAndWaitAllFinished(context.Background()); err != nil {
		t.Fatalf("ShutdownAndWaitAllFinished() on an idle manager = %v, want nil", err)
	}

	id := contracts.ExecutingLAID{RunID: "run-1", SeqNum: 1}
	res, immediate := m.Enqueue(newRecord(id))
	if !immediate {
		t.Fatal("Enqueue() after shutdown returned queued, want an immediate rejection")
	}
	if res.Result.Kind != ResultCancelled {
		t.Fatalf("Enqueue() after shutdown resolution = %+v, want Cancelled", res.Result)
	}
}
