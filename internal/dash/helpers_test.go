package dash

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/reefdash/internal/bus"
	"github.com/skobkin/reefdash/internal/connectors"
	"github.com/skobkin/reefdash/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTiming() Timing {
	return Timing{
		RetryInterval:     60 * time.Millisecond,
		ConnectTimeout:    300 * time.Millisecond,
		HeartbeatPeriod:   80 * time.Millisecond,
		HeartbeatDeadline: 70 * time.Millisecond,
		DataPeriod:        20 * time.Millisecond,
		DataDeadline:      25 * time.Millisecond,
		EventPeriod:       25 * time.Millisecond,
		EventDeadline:     25 * time.Millisecond,
		CommandTimeout:    150 * time.Millisecond,
	}
}

// replyFunc answers one request line; ok=false leaves the request unanswered.
type replyFunc func(line string) (reply string, ok bool)

// echoServer answers PING with PONG, DATA with a sample and EVENT with an
// empty batch. Everything else goes unanswered.
func echoServer(line string) (string, bool) {
	switch line {
	case "PING":
		return "PONG", true
	case "DATA":
		return "x=1;y=2", true
	case "EVENT":
		return "EVENT:", true
	}
	return "", false
}

// scriptedServer is a loopback dashboard server driven by a replaceable
// replyFunc. Every received line is recorded on received.
type scriptedServer struct {
	ln       net.Listener
	received chan string

	mu     sync.Mutex
	reply  replyFunc
	conns  []net.Conn
	accept int
}

func newScriptedServer(t *testing.T, reply replyFunc) *scriptedServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &scriptedServer{
		ln:       ln,
		received: make(chan string, 4096),
		reply:    reply,
	}
	t.Cleanup(func() {
		_ = ln.Close()
		s.dropClients()
	})
	go s.serve()

	return s
}

func (s *scriptedServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.accept++
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *scriptedServer) handle(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line := strings.TrimRight(raw, "\r\n")
		select {
		case s.received <- line:
		default:
		}

		s.mu.Lock()
		fn := s.reply
		s.mu.Unlock()
		if out, ok := fn(line); ok {
			if _, err := conn.Write([]byte(out + "\r\n")); err != nil {
				return
			}
		}
	}
}

func (s *scriptedServer) setReply(fn replyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = fn
}

func (s *scriptedServer) accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accept
}

func (s *scriptedServer) dropClients() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (s *scriptedServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *scriptedServer) transport() *transport.IPTransport {
	return transport.NewIPTransport("127.0.0.1", s.port())
}

// drain empties the received channel and returns what was in it.
func (s *scriptedServer) drain() []string {
	var out []string
	for {
		select {
		case line := <-s.received:
			out = append(out, line)
		default:
			return out
		}
	}
}

// observer collects bus notifications into buffered channels.
type observer struct {
	statuses  chan connectors.ConnectionStatus
	data      chan connectors.DataPoint
	events    chan connectors.EventRecord
	logs      chan connectors.LogLine
	commands  chan connectors.ClientCommand
	responses chan connectors.ServerResponse
}

func observe(t *testing.T, b bus.MessageBus) *observer {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	o := &observer{
		statuses:  make(chan connectors.ConnectionStatus, 256),
		data:      make(chan connectors.DataPoint, 1024),
		events:    make(chan connectors.EventRecord, 1024),
		logs:      make(chan connectors.LogLine, 8192),
		commands:  make(chan connectors.ClientCommand, 256),
		responses: make(chan connectors.ServerResponse, 256),
	}
	bus.Listen(ctx, b, connectors.TopicConnStatus, forward(o.statuses))
	bus.Listen(ctx, b, connectors.TopicDataReceived, forward(o.data))
	bus.Listen(ctx, b, connectors.TopicEventReceived, forward(o.events))
	bus.Listen(ctx, b, connectors.TopicLogMessage, forward(o.logs))
	bus.Listen(ctx, b, connectors.TopicClientCommand, forward(o.commands))
	bus.Listen(ctx, b, connectors.TopicServerResponse, forward(o.responses))

	return o
}

func forward[T any](ch chan T) func(T) {
	return func(v T) {
		select {
		case ch <- v:
		default:
		}
	}
}

func newTestClient(t *testing.T, tr transport.Transport, opts Options) (*Client, *observer) {
	t.Helper()

	logger := testLogger()
	b := bus.New(logger)
	obs := observe(t, b)
	c := NewClient(logger, b, tr, nil, opts)
	t.Cleanup(func() {
		c.Close()
		b.Close()
	})

	return c, obs
}

func waitStatus(t *testing.T, ch <-chan connectors.ConnectionStatus, want connectors.ConnectionState, timeout time.Duration) connectors.ConnectionStatus {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case st := <-ch:
			if st.State == want {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s status", want)
			return connectors.ConnectionStatus{}
		}
	}
}

// collectStatuses returns every status published within window.
func collectStatuses(ch <-chan connectors.ConnectionStatus, window time.Duration) []connectors.ConnectionStatus {
	var out []connectors.ConnectionStatus
	deadline := time.After(window)
	for {
		select {
		case st := <-ch:
			out = append(out, st)
		case <-deadline:
			return out
		}
	}
}

func countState(statuses []connectors.ConnectionStatus, state connectors.ConnectionState) int {
	n := 0
	for _, st := range statuses {
		if st.State == state {
			n++
		}
	}
	return n
}

func waitLine(t *testing.T, ch <-chan string, want string, timeout time.Duration) {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case line := <-ch:
			if line == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func waitLog(t *testing.T, ch <-chan connectors.LogLine, substr string, timeout time.Duration) connectors.LogLine {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case l := <-ch:
			if strings.Contains(l.Text, substr) {
				return l
			}
		case <-deadline:
			t.Fatalf("timed out waiting for log containing %q", substr)
			return connectors.LogLine{}
		}
	}
}

func options(data, events bool) Options {
	return Options{Timing: testTiming(), DataEnabled: data, EventEnabled: events}
}
