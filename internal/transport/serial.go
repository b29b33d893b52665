package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultSerialBaud        = 115200
	defaultSerialReadTimeout = 300 * time.Millisecond
	serialReadChunk          = 256
)

// SerialTransport speaks the same line protocol over a USB serial link. Its
// settings are fixed; a config change builds a new transport.
type SerialTransport struct {
	portName string
	baudRate int
}

func NewSerialTransport(portName string, baudRate int) *SerialTransport {
	if baudRate <= 0 {
		baudRate = DefaultSerialBaud
	}

	return &SerialTransport{
		portName: portName,
		baudRate: baudRate,
	}
}

func (t *SerialTransport) Name() string {
	return "serial"
}

func (t *SerialTransport) Target() string {
	return t.portName
}

func (t *SerialTransport) Dial(ctx context.Context) (Conn, error) {
	portName, baudRate := t.portName, t.baudRate
	logger := connLogger("serial", portName)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if portName == "" {
		return nil, errors.New("serial port is empty")
	}
	if baudRate <= 0 {
		return nil, fmt.Errorf("invalid serial baud rate: %d", baudRate)
	}

	logger.Info("opening", "baud", baudRate)
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		logger.Warn("open failed", "error", err)
		return nil, fmt.Errorf("open serial port %q: %w", portName, err)
	}
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set serial read timeout: %w", err)
	}
	logger.Info("opened")

	return newStreamConn(port, logger), nil
}

// streamConn frames lines over a polling reader such as a serial port with a
// read timeout, where Read returns (0, nil) when no bytes arrived in time.
type streamConn struct {
	rw     io.ReadWriteCloser
	logger *slog.Logger

	pending []byte
	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newStreamConn(rw io.ReadWriteCloser, logger *slog.Logger) *streamConn {
	return &streamConn{rw: rw, logger: logger}
}

func (c *streamConn) ReadLine(ctx context.Context) (string, error) {
	chunk := make([]byte, serialReadChunk)
	for {
		if line, rest, ok := cutLine(c.pending); ok {
			c.pending = rest
			return line, nil
		}
		if c.closed.Load() {
			return "", ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := c.rw.Read(chunk)
		if err != nil {
			if c.closed.Load() {
				return "", ErrClosed
			}
			return "", fmt.Errorf("read line: %w", err)
		}
		if n == 0 {
			continue
		}
		c.pending = append(c.pending, chunk[:n]...)
	}
}

func (c *streamConn) WriteLine(ctx context.Context, line string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	payload, err := encodeLine(line)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := writeFull(ctx, c.rw, payload); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return nil
}

func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.rw.Close()
		c.logger.Info("closed")
	})

	return c.closeErr
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		written += n
	}
	return nil
}
