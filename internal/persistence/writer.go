package persistence

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultWriterCapacity = 256
	writeMaxRetries       = 2
	writeRetryInterval    = 300 * time.Millisecond
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue serializes journal writes on one goroutine and retries failed
// writes a few times before giving up on them.
type WriterQueue struct {
	logger  *slog.Logger
	queue   chan writeCmd
	closing chan struct{}
	stopped chan struct{}

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup

	dropped atomic.Int64
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if logger == nil {
		logger = slog.Default().With("component", "persistence")
	}
	if capacity <= 0 {
		capacity = defaultWriterCapacity
	}
	return &WriterQueue{
		logger:  logger,
		queue:   make(chan writeCmd, capacity),
		closing: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Enqueue never blocks the caller. A full queue hands the write to a goroutine
// that waits for room. Writes that will never run, because the queue stopped
// first, are counted by Dropped.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	cmd := writeCmd{name: name, fn: fn}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.drop(cmd)
		return
	}
	select {
	case w.queue <- cmd:
		w.mu.Unlock()
		return
	default:
	}
	w.pending.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.pending.Done()
		select {
		case w.queue <- cmd:
		case <-w.closing:
			w.drop(cmd)
		}
	}()
}

// Start runs queued writes until ctx is done. On exit every write still
// queued is dropped, then Stopped is closed.
func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		defer w.shutdown()
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-w.queue:
				if ctx.Err() != nil {
					w.drop(cmd)
					return
				}
				w.runWithRetry(ctx, cmd)
			}
		}
	}()
}

// Stopped is closed once the queue has stopped and discarded its backlog.
func (w *WriterQueue) Stopped() <-chan struct{} {
	return w.stopped
}

func (w *WriterQueue) shutdown() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	close(w.closing)
	w.pending.Wait()
	for {
		select {
		case cmd := <-w.queue:
			w.drop(cmd)
		default:
			close(w.stopped)
			return
		}
	}
}

// Dropped reports how many writes were discarded because the queue had stopped.
func (w *WriterQueue) Dropped() int64 {
	return w.dropped.Load()
}

func (w *WriterQueue) drop(cmd writeCmd) {
	w.dropped.Add(1)
	w.logger.Debug("db write dropped: queue stopped", "cmd", cmd.name)
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	schedule := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(writeRetryInterval), writeMaxRetries),
		ctx,
	)
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		return cmd.fn(ctx)
	}, schedule)
	if err != nil && ctx.Err() == nil {
		w.logger.Error("db write failed", "cmd", cmd.name, "attempts", attempt, "error", err)
	}
}
