package dash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/skobkin/reefdash/internal/transport"
)

const sessionLineBuffer = 16

// session is one established connection. Its reader pump is the only reader
// of conn; request/reply pairs are serialized by sem, so at most one request
// is in flight per connection.
type session struct {
	id     uint64
	conn   transport.Conn
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sem         chan struct{}
	commandHeld atomic.Bool
	commands    atomic.Uint64
	lines       chan string
	readDone    chan struct{}
	readErr     error
}

func newSession(parent context.Context, id uint64, conn transport.Conn, logger *slog.Logger) *session {
	ctx, cancel := context.WithCancel(parent)

	return &session{
		id:       id,
		conn:     conn,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sem:      make(chan struct{}, 1),
		lines:    make(chan string, sessionLineBuffer),
		readDone: make(chan struct{}),
	}
}

// pump reads lines until the connection fails. onFailure is called only when
// the failure was not caused by closing the session.
func (s *session) pump(onFailure func(err error)) {
	for {
		line, err := s.conn.ReadLine(s.ctx)
		if err != nil {
			s.readErr = err
			close(s.readDone)
			if s.ctx.Err() == nil && onFailure != nil {
				onFailure(err)
			}
			return
		}
		select {
		case s.lines <- line:
		case <-s.ctx.Done():
			s.readErr = ErrConnectionLost
			close(s.readDone)
			return
		}
	}
}

// exchange sends command and waits up to deadline for the next line. The
// deadline starts once the request lock is held.
func (s *session) exchange(ctx context.Context, command string, deadline time.Duration) (string, bool, error) {
	if err := s.acquire(ctx); err != nil {
		return "", false, err
	}
	defer s.release()

	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	return s.roundTrip(ctx, reqCtx, command)
}

// command is exchange for an operator request. While it holds the lock,
// exchangeWithin callers keep waiting past their deadline.
func (s *session) command(ctx context.Context, command string, timeout time.Duration) (string, bool, error) {
	if err := s.acquire(ctx); err != nil {
		return "", false, err
	}
	s.commands.Add(1)
	s.commandHeld.Store(true)
	defer func() {
		s.commandHeld.Store(false)
		s.release()
	}()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.roundTrip(ctx, reqCtx, command)
}

// exchangeWithin is exchange with the deadline also covering the wait behind
// poll requests, so a reply is due within deadline of the call. If an operator
// command held the lock during the wait, the deadline restarts once the lock
// is acquired.
func (s *session) exchangeWithin(ctx context.Context, command string, deadline time.Duration) (string, bool, error) {
	heldAtStart, seen := s.commandHeld.Load(), s.commands.Load()
	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	err := s.acquire(reqCtx)
	commandInWay := heldAtStart || s.commandHeld.Load() || s.commands.Load() != seen
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && commandInWay {
		s.logger.Debug("waiting for operator command", "command", command)
		if err = s.acquire(ctx); err == nil {
			cancel()
			reqCtx, cancel = context.WithTimeout(ctx, deadline)
			defer cancel()
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", false, ErrResponseTimeout
		}
		return "", false, err
	}
	defer s.release()

	return s.roundTrip(ctx, reqCtx, command)
}

func (s *session) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrConnectionLost
	}
}

func (s *session) release() {
	<-s.sem
}

// roundTrip writes command and waits for one line. Must hold the request lock.
func (s *session) roundTrip(ctx, reqCtx context.Context, command string) (string, bool, error) {
	s.discardStale()
	if reqCtx.Err() != nil {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		return "", false, ErrResponseTimeout
	}

	if err := s.conn.WriteLine(reqCtx, command); err != nil {
		return "", false, fmt.Errorf("send %s: %w", command, err)
	}

	select {
	case line := <-s.lines:
		return line, true, nil
	case <-s.readDone:
		return "", true, fmt.Errorf("receive %s: %w", command, s.readErr)
	case <-s.ctx.Done():
		return "", true, ErrConnectionLost
	case <-reqCtx.Done():
		if err := ctx.Err(); err != nil {
			return "", true, err
		}
		return "", true, ErrResponseTimeout
	}
}

// discardStale drops replies that arrived after their request timed out.
func (s *session) discardStale() {
	for {
		select {
		case line := <-s.lines:
			s.logger.Debug("discarding stale reply", "line", line)
		default:
			return
		}
	}
}

func (s *session) close() {
	s.cancel()
	if err := s.conn.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		s.logger.Debug("close connection", "error", err)
	}
}
