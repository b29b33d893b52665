package dash

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/skobkin/reefdash/internal/connectors"
	"github.com/skobkin/reefdash/internal/protocol"
)

func commandServer(line string) (string, bool) {
	switch line {
	case "QUERY:R3":
		return "R3:42", true
	case "GET:1,2,3":
		return "1:10,2:20,3:30", true
	case "EVENT":
		return "EVENT:error,lift jammed", true
	}
	return echoServer(line)
}

func connectedClient(t *testing.T, reply replyFunc) (*Client, *observer, *scriptedServer) {
	t.Helper()

	srv := newScriptedServer(t, reply)
	c, obs := newTestClient(t, srv.transport(), options(false, false))
	c.Start()
	waitStatus(t, obs.statuses, connectors.ConnectionStateConnected, time.Second)

	return c, obs, srv
}

func TestDispatcherIsNoopWhileDisconnected(t *testing.T) {
	srv := newScriptedServer(t, commandServer)
	c, obs := newTestClient(t, srv.transport(), options(false, false))
	ctx := context.Background()

	ex, err := c.SendQuery(ctx, protocol.QueryR, 3)
	if err != nil {
		t.Fatalf("send query: %v", err)
	}
	if ex.Sent || ex.Command != "QUERY:R3" || ex.Response != "" {
		t.Fatalf("unexpected exchange: %+v", ex)
	}
	if ex, err := c.SendEvent(ctx); err != nil || ex.Sent {
		t.Fatalf("send event while disconnected: %+v, %v", ex, err)
	}

	select {
	case cmd := <-obs.commands:
		t.Fatalf("nothing must be transmitted, got %+v", cmd)
	case <-time.After(50 * time.Millisecond):
	}
	if srv.accepted() != 0 {
		t.Fatalf("dispatcher must not connect")
	}
}

func TestDispatcherRoundTrip(t *testing.T) {
	c, obs, _ := connectedClient(t, commandServer)
	ctx := context.Background()

	ex, err := c.SendQuery(ctx, protocol.QueryR, 3)
	if err != nil {
		t.Fatalf("send query: %v", err)
	}
	if !ex.Sent || ex.Response != "R3:42" {
		t.Fatalf("unexpected query exchange: %+v", ex)
	}

	ex, err = c.SendGet(ctx, 1, 2, 3)
	if err != nil {
		t.Fatalf("send get: %v", err)
	}
	if ex.Command != "GET:1,2,3" || ex.Response != "1:10,2:20,3:30" {
		t.Fatalf("unexpected get exchange: %+v", ex)
	}

	for _, want := range []string{"QUERY:R3", "GET:1,2,3"} {
		select {
		case cmd := <-obs.commands:
			if cmd.Line != want {
				t.Fatalf("expected command %q, got %q", want, cmd.Line)
			}
		case <-time.After(time.Second):
			t.Fatalf("command %q not published", want)
		}
		select {
		case resp := <-obs.responses:
			if resp.Command != want {
				t.Fatalf("response for %q published as %q", want, resp.Command)
			}
		case <-time.After(time.Second):
			t.Fatalf("response to %q not published", want)
		}
	}
}

func TestDispatcherSendEventPublishesRecords(t *testing.T) {
	c, obs, _ := connectedClient(t, commandServer)

	ex, err := c.SendEvent(context.Background())
	if err != nil {
		t.Fatalf("send event: %v", err)
	}
	if ex.Response != "EVENT:error,lift jammed" {
		t.Fatalf("unexpected response: %q", ex.Response)
	}

	select {
	case rec := <-obs.events:
		if rec.Kind != connectors.EventKindError || rec.Message != "lift jammed" {
			t.Fatalf("unexpected record: %+v", rec)
		}
	case <-time.After(time.Second):
		t.Fatalf("event record not published")
	}
}

func TestDispatcherSendEventReportsMalformedBatch(t *testing.T) {
	c, obs, _ := connectedClient(t, func(line string) (string, bool) {
		if line == "EVENT" {
			return "EVENT:notice,docked|warning,low battery", true
		}
		return echoServer(line)
	})

	ex, err := c.SendEvent(context.Background())
	if err != nil {
		t.Fatalf("send event: %v", err)
	}
	if !ex.Sent {
		t.Fatalf("expected the request to be sent")
	}

	l := waitLog(t, obs.logs, "Error receiving event request response", time.Second)
	if l.Level != slog.LevelWarn {
		t.Fatalf("expected a warning, got %s", l.Level)
	}
	select {
	case rec := <-obs.events:
		t.Fatalf("malformed batch published a record: %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcherTimeoutKeepsConnection(t *testing.T) {
	c, obs, _ := connectedClient(t, commandServer)
	ctx := context.Background()

	ex, err := c.SendGet(ctx, 9)
	if !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("expected ErrResponseTimeout, got %v", err)
	}
	if !ex.Sent {
		t.Fatalf("timed out command was still sent")
	}

	statuses := collectStatuses(obs.statuses, 150*time.Millisecond)
	if n := countState(statuses, connectors.ConnectionStateDisconnected); n != 0 {
		t.Fatalf("command timeout must not disconnect")
	}

	ex, err = c.SendQuery(ctx, protocol.QueryR, 3)
	if err != nil || ex.Response != "R3:42" {
		t.Fatalf("follow-up query failed: %+v, %v", ex, err)
	}
}

func TestDispatcherHonoursCallerContext(t *testing.T) {
	c, _, _ := connectedClient(t, commandServer)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.SendGet(ctx, 9); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}
}

func TestDispatcherRejectsInvalidArguments(t *testing.T) {
	c, obs, _ := connectedClient(t, commandServer)
	ctx := context.Background()

	if _, err := c.SendGet(ctx); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty GET, got %v", err)
	}
	if _, err := c.SendGet(ctx, 1, -2); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for negative index, got %v", err)
	}
	if _, err := c.SendQuery(ctx, protocol.QueryKind("X"), 1); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for bad kind, got %v", err)
	}

	select {
	case cmd := <-obs.commands:
		t.Fatalf("invalid command transmitted: %+v", cmd)
	case <-time.After(50 * time.Millisecond):
	}
}
