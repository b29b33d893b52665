package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	ErrClosed             = errors.New("connection closed")
	ErrAddressUnsupported = errors.New("transport has no network address")
)

// Transport opens line-oriented connections to the dashboard server.
// Every Dial returns a fresh Conn; a closed Conn is never reused.
type Transport interface {
	Name() string
	Target() string
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one established line stream.
type Conn interface {
	ReadLine(ctx context.Context) (string, error)
	WriteLine(ctx context.Context, line string) error
	Close() error
}

// Addressable is implemented by transports whose endpoint can change at runtime.
type Addressable interface {
	Endpoint() Endpoint
	SetEndpoint(ep Endpoint) error
}

// Endpoint is a host/port pair of a TCP dashboard server.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return errors.New("host is empty")
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("port out of range: %d", e.Port)
	}

	return nil
}
