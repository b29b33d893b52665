package dash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skobkin/reefdash/internal/connectors"
	"github.com/skobkin/reefdash/internal/protocol"
)

// Exchange is the outcome of a one-shot command. Sent is false when nothing
// went out on the wire, for example because the client was disconnected.
type Exchange struct {
	Command  string
	Response string
	Sent     bool
}

// SendQuery issues QUERY:<kind><index> and waits for one reply line.
func (c *Client) SendQuery(ctx context.Context, kind protocol.QueryKind, index int) (Exchange, error) {
	command, err := c.codec.EncodeQuery(kind, index)
	if err != nil {
		return Exchange{}, err
	}

	return c.dispatch(ctx, command)
}

// SendGet issues GET:<i1>,<i2>,... and waits for one reply line.
func (c *Client) SendGet(ctx context.Context, indices ...int) (Exchange, error) {
	command, err := c.codec.EncodeGet(indices)
	if err != nil {
		return Exchange{}, err
	}

	return c.dispatch(ctx, command)
}

// SendEvent issues a single EVENT request. The reply is returned raw; decoded
// records are published on the event topic like the poll loop does.
func (c *Client) SendEvent(ctx context.Context) (Exchange, error) {
	ex, err := c.dispatch(ctx, c.codec.EncodeEventRequest())
	if err != nil || ex.Response == "" {
		return ex, err
	}

	records, decodeErr := c.codec.DecodeEvents(ex.Response)
	if errors.Is(decodeErr, protocol.ErrNotEventBatch) {
		c.logger.Debug("ignoring reply", "command", ex.Command, "line", ex.Response)
		return ex, nil
	}
	if decodeErr != nil {
		c.note(slog.LevelWarn, fmt.Sprintf("Error receiving event request response: %v", decodeErr))
		return ex, nil
	}
	now := time.Now()
	for _, rec := range records {
		rec.ReceivedAt = now
		c.publish(connectors.TopicEventReceived, rec)
	}

	return ex, nil
}

// dispatch sends command on the current session. Calls made while
// disconnected are no-ops. A reply timeout is reported but never tears the
// connection down; the heartbeat owns liveness.
func (c *Client) dispatch(ctx context.Context, command string) (Exchange, error) {
	ex := Exchange{Command: command}
	sess := c.currentSession()
	if sess == nil {
		c.logger.Debug("command skipped: not connected", "command", command)
		return ex, nil
	}

	c.trace("Client: " + command)
	line, sent, err := sess.command(ctx, command, c.timing.CommandTimeout)
	ex.Sent = sent
	if sent {
		c.publish(connectors.TopicClientCommand, connectors.ClientCommand{
			Line:   command,
			SentAt: time.Now(),
		})
	}
	if err != nil {
		c.note(slog.LevelWarn, fmt.Sprintf("Command %s failed: %v", command, err))
		return ex, fmt.Errorf("command %s: %w", command, err)
	}
	c.trace("Server: " + line)

	ex.Response = line
	c.publish(connectors.TopicServerResponse, connectors.ServerResponse{
		Command:    command,
		Line:       line,
		ReceivedAt: time.Now(),
	})

	return ex, nil
}
