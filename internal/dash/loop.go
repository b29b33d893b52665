package dash

import (
	"context"
	"sync"
	"time"
)

// loop owns the cancellation lifetime of one role (supervisor, heartbeat,
// data poll, event poll). At most one generation runs: start cancels the
// previous generation and waits for it to exit before launching the next.
type loop struct {
	role string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newLoop(role string) *loop {
	return &loop{role: role}
}

// start launches body under a context derived from parent. admit is evaluated
// once the previous generation is gone; false leaves the role idle.
func (l *loop) start(parent context.Context, admit func() bool, body func(ctx context.Context)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopLocked()
	if parent.Err() != nil {
		return false
	}
	if admit != nil && !admit() {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	go func() {
		defer close(done)
		defer cancel()
		body(ctx)
	}()

	return true
}

// stop cancels the current generation and waits for it to return.
// It must not be called from inside the role's own body.
func (l *loop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
}

func (l *loop) stopLocked() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
	l.done = nil
}

func (l *loop) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// runEvery runs cycle, then waits period, until ctx is done. Cycles never overlap.
func runEvery(ctx context.Context, period time.Duration, cycle func(ctx context.Context)) {
	for {
		if ctx.Err() != nil {
			return
		}
		cycle(ctx)
		if !sleepWithContext(ctx, period) {
			return
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
