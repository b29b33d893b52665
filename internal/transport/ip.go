package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultIPPort      = 5000
	defaultDialTimeout = 6 * time.Second
)

// IPTransport dials the dashboard server over TCP.
type IPTransport struct {
	mu   sync.Mutex
	host string
	port int
}

func NewIPTransport(host string, port int) *IPTransport {
	if port == 0 {
		port = DefaultIPPort
	}

	return &IPTransport{host: host, port: port}
}

func (t *IPTransport) Name() string {
	return "ip"
}

func (t *IPTransport) Target() string {
	ep := t.Endpoint()
	if ep.Host == "" {
		return ""
	}

	return ep.String()
}

func (t *IPTransport) Endpoint() Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Endpoint{Host: t.host, Port: t.port}
}

func (t *IPTransport) SetEndpoint(ep Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.host = ep.Host
	t.port = ep.Port

	return nil
}

func (t *IPTransport) Dial(ctx context.Context) (Conn, error) {
	ep := t.Endpoint()
	logger := connLogger("ip", ep.String())

	if err := ep.Validate(); err != nil {
		logger.Warn("connect failed: bad endpoint", "error", err)

		return nil, fmt.Errorf("ip endpoint: %w", err)
	}

	dialer := net.Dialer{Timeout: defaultDialTimeout}
	logger.Info("connecting")
	conn, err := dialer.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		logger.Warn("connect failed", "error", err)

		return nil, fmt.Errorf("dial tcp: %w", err)
	}
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return newNetConn(conn, logger), nil
}

// netConn is a line stream over a net.Conn. Reads must come from a single
// goroutine; writes may be concurrent.
type netConn struct {
	conn   net.Conn
	reader *bufio.Reader
	logger *slog.Logger

	writeMu sync.Mutex
	writer  *bufio.Writer

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newNetConn(conn net.Conn, logger *slog.Logger) *netConn {
	return &netConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		logger: logger,
	}
}

func (c *netConn) ReadLine(ctx context.Context) (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	raw, err := c.reader.ReadString(lineTerminator)
	if err != nil {
		switch {
		case c.closed.Load():
			return "", ErrClosed
		case ctx.Err() != nil:
			return "", ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", context.DeadlineExceeded
		}
		c.logger.Debug("read line failed", "error", err)

		return "", fmt.Errorf("read line: %w", err)
	}
	line := trimLine(raw)
	c.logger.Debug("read line", "len", len(line))

	return line, nil
}

func (c *netConn) WriteLine(ctx context.Context, line string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	payload, err := encodeLine(line)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.writer.Write(payload); err != nil {
		c.logger.Warn("write line failed", "len", len(line), "error", err)

		return fmt.Errorf("write line: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		c.logger.Warn("flush line failed", "len", len(line), "error", err)

		return fmt.Errorf("flush line: %w", err)
	}
	c.logger.Debug("write line", "len", len(line))

	return nil
}

func (c *netConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
		if c.closeErr != nil {
			c.logger.Warn("close failed", "error", c.closeErr)
			return
		}
		c.logger.Info("closed")
	})

	return c.closeErr
}
