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

// role is one periodic request/reply loop bound to a session.
type role struct {
	name     string
	period   time.Duration
	deadline time.Duration
	command  string
	// escalate drops the session on timeout, transport error or a rejected
	// reply. Its deadline includes waiting behind other requests.
	escalate bool
	handle   func(line string) error
}

func (c *Client) heartbeatRole() role {
	return role{
		name:     "heartbeat",
		period:   c.timing.HeartbeatPeriod,
		deadline: c.timing.HeartbeatDeadline,
		command:  c.codec.EncodeHeartbeat(),
		escalate: true,
		handle: func(line string) error {
			if !c.codec.IsHeartbeatReply(line) {
				return fmt.Errorf("%w to heartbeat: %q", ErrUnexpectedReply, line)
			}
			return nil
		},
	}
}

func (c *Client) dataRole() role {
	return role{
		name:     "data",
		period:   c.timing.DataPeriod,
		deadline: c.timing.DataDeadline,
		command:  c.codec.EncodeDataRequest(),
		handle: func(line string) error {
			c.publish(connectors.TopicDataReceived, connectors.DataPoint{
				Payload:    line,
				ReceivedAt: time.Now(),
			})
			return nil
		},
	}
}

func (c *Client) eventRole() role {
	return role{
		name:     "event",
		period:   c.timing.EventPeriod,
		deadline: c.timing.EventDeadline,
		command:  c.codec.EncodeEventRequest(),
		handle: func(line string) error {
			records, err := c.codec.DecodeEvents(line)
			if err != nil {
				return err
			}
			now := time.Now()
			for _, rec := range records {
				rec.ReceivedAt = now
				c.publish(connectors.TopicEventReceived, rec)
			}
			return nil
		},
	}
}

func (c *Client) startHeartbeat(sess *session) {
	c.startRole(c.heartbeat, sess, c.heartbeatRole(), nil)
}

func (c *Client) startDataPoll(sess *session) {
	c.startRole(c.dataPoll, sess, c.dataRole(), c.DataEnabled)
}

func (c *Client) startEventPoll(sess *session) {
	c.startRole(c.eventPoll, sess, c.eventRole(), c.EventEnabled)
}

// startRole replaces the running generation of l with r bound to sess. The
// loop is parented to the session, so dropping the session ends it.
func (c *Client) startRole(l *loop, sess *session, r role, enabled func() bool) {
	admit := func() bool {
		if !c.isCurrent(sess) {
			return false
		}
		return enabled == nil || enabled()
	}
	if !l.start(sess.ctx, admit, func(ctx context.Context) {
		c.note(slog.LevelInfo, fmt.Sprintf("Starting %s loop", r.name))
		runEvery(ctx, r.period, func(ctx context.Context) {
			c.runCycle(ctx, sess, r)
		})
	}) {
		c.logger.Debug("loop not started", "role", r.name, "session", sess.id)
	}
}

func (c *Client) runCycle(ctx context.Context, sess *session, r role) {
	c.trace("Client: " + r.command)
	exchange := sess.exchange
	if r.escalate {
		exchange = sess.exchangeWithin
	}
	line, sent, err := exchange(ctx, r.command, r.deadline)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.cycleFailed(sess, r, sent, err)
		return
	}
	c.trace("Server: " + line)

	if err := r.handle(line); err != nil {
		switch {
		case r.escalate:
			c.note(slog.LevelWarn, fmt.Sprintf("%s failed: %v", r.name, err))
			c.dropSession(sess, err)
		case errors.Is(err, protocol.ErrNotEventBatch):
			c.logger.Debug("ignoring reply", "role", r.name, "line", line)
		default:
			c.note(slog.LevelWarn, fmt.Sprintf("Error receiving %s request response: %v", r.name, err))
		}
	}
}

func (c *Client) cycleFailed(sess *session, r role, sent bool, err error) {
	timedOut := errors.Is(err, ErrResponseTimeout)
	if !r.escalate {
		if timedOut {
			c.logger.Debug("cycle skipped", "role", r.name, "error", err)
			return
		}
		c.note(slog.LevelWarn, fmt.Sprintf("Error receiving %s request response: %v", r.name, err))
		return
	}

	if timedOut {
		c.note(slog.LevelWarn, fmt.Sprintf("%s timeout", r.name))
	} else {
		c.note(slog.LevelWarn, fmt.Sprintf("%s failed (sent=%t): %v", r.name, sent, err))
	}
	c.dropSession(sess, err)
}

// trace mirrors a wire line onto the log topic at debug level.
func (c *Client) trace(text string) {
	c.logger.Debug(text)
	c.publish(connectors.TopicLogMessage, connectors.LogLine{
		Level:     slog.LevelDebug,
		Text:      text,
		Timestamp: time.Now(),
	})
}
