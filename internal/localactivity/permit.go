package localactivity

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// permitSemaphore bounds the number of local activities dispatched and not
// yet completed, mirroring the original's tokio Semaphore used the same
// way: one permit acquired before a new-or-retry item is handed to the
// executor, released exactly once on Complete.
//
// golang.org/x/sync/semaphore.Weighted is used instead of a hand-rolled
// chan struct{} pool because Acquire takes a context.Context directly,
// which is what feedLoop needs to unblock a pending acquire on shutdown.
type permitSemaphore struct {
	sem *semaphore.Weighted
}

func newPermitSemaphore(n int) *permitSemaphore {
	return &permitSemaphore{sem: semaphore.NewWeighted(int64(n))}
}

// acquire blocks until a permit is available or ctx is done.
func (p *permitSemaphore) acquire(ctx context.Context) (*OwnedPermit, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &OwnedPermit{sem: p.sem}, nil
}

// OwnedPermit represents one outstanding dispatch slot. Release is
// idempotent: InFlightInfo and the feeder's error paths may both attempt
// to release the same permit, so only the first call has effect.
type OwnedPermit struct {
	sem  *semaphore.Weighted
	once sync.Once
}

// Release returns the permit to its semaphore. Safe to call more than
// once or from any goroutine.
func (p *OwnedPermit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.sem.Release(1)
	})
}
