package dash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/skobkin/reefdash/internal/bus"
	"github.com/skobkin/reefdash/internal/connectors"
	"github.com/skobkin/reefdash/internal/protocol"
	"github.com/skobkin/reefdash/internal/transport"
)

var (
	ErrResponseTimeout = errors.New("response timeout")
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrConnectionLost  = errors.New("connection lost")
)

// Client keeps a dashboard server connection alive and runs the heartbeat and
// poll loops over it. Results and state changes go to the message bus.
//
// Lock order: superMu, then statusMu, then mu.
//
// Start, Stop, Close, SetServerAddress and the Enable toggles wait for loops
// that publish to the bus. A bus listener must not call them inline: a loop
// blocked on that listener's full subscription would never exit. Hand the
// call to another goroutine instead.
type Client struct {
	logger    *slog.Logger
	bus       bus.MessageBus
	transport transport.Transport
	codec     Codec
	timing    Timing

	base       context.Context
	cancelBase context.CancelFunc

	superMu    sync.Mutex
	supervisor *loop

	// statusMu orders state transitions together with their publication.
	statusMu sync.Mutex

	mu           sync.Mutex
	state        connectors.ConnectionState
	session      *session
	sessionSeq   uint64
	dataEnabled  bool
	eventEnabled bool

	heartbeat *loop
	dataPoll  *loop
	eventPoll *loop
}

func NewClient(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, codec Codec, opts Options) *Client {
	if logger == nil {
		logger = slog.Default().With("component", "dash")
	}
	if codec == nil {
		codec = protocol.NewLineCodec()
	}
	base, cancel := context.WithCancel(context.Background())

	return &Client{
		logger:       logger,
		bus:          b,
		transport:    tr,
		codec:        codec,
		timing:       opts.Timing.withDefaults(),
		base:         base,
		cancelBase:   cancel,
		supervisor:   newLoop("supervisor"),
		state:        connectors.ConnectionStateDisconnected,
		dataEnabled:  opts.DataEnabled,
		eventEnabled: opts.EventEnabled,
		heartbeat:    newLoop("heartbeat"),
		dataPoll:     newLoop("data"),
		eventPoll:    newLoop("event"),
	}
}

// Start launches the reconnect loop unless it is already running.
func (c *Client) Start() {
	c.superMu.Lock()
	defer c.superMu.Unlock()

	if c.supervisor.running() {
		return
	}
	c.startSupervisorLocked()
}

// Stop cancels the reconnect loop and drops the current connection.
func (c *Client) Stop() {
	c.superMu.Lock()
	defer c.superMu.Unlock()

	c.note(slog.LevelInfo, "Stopping connection loop")
	c.supervisor.stop()
	c.disconnect(nil)
}

// Close stops the client for good and waits for every loop to exit.
func (c *Client) Close() {
	c.Stop()
	c.cancelBase()
	c.heartbeat.stop()
	c.dataPoll.stop()
	c.eventPoll.stop()
}

// SetServerAddress changes the endpoint. While connected this drops the
// connection and restarts the reconnect loop against the new endpoint.
// Identical values are a no-op.
func (c *Client) SetServerAddress(host string, port int) error {
	addressable, ok := c.transport.(transport.Addressable)
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrAddressUnsupported, c.transport.Name())
	}
	ep := transport.Endpoint{Host: host, Port: port}
	if err := ep.Validate(); err != nil {
		return fmt.Errorf("server address: %w", err)
	}

	c.superMu.Lock()
	defer c.superMu.Unlock()

	if addressable.Endpoint() == ep {
		return nil
	}
	if err := addressable.SetEndpoint(ep); err != nil {
		return fmt.Errorf("server address: %w", err)
	}
	c.note(slog.LevelInfo, fmt.Sprintf("Updated server address/port: %s", ep))

	if c.State() != connectors.ConnectionStateConnected {
		return nil
	}
	c.supervisor.stop()
	c.disconnect(errors.New("server address changed"))
	c.startSupervisorLocked()

	return nil
}

// EnableDataTransmission toggles the DATA poll loop. The toggle persists
// across reconnects.
func (c *Client) EnableDataTransmission(enable bool) {
	c.mu.Lock()
	c.dataEnabled = enable
	sess := c.session
	c.mu.Unlock()

	if !enable {
		c.note(slog.LevelInfo, "Stopping data message transmission request")
		c.dataPoll.stop()
		return
	}
	c.note(slog.LevelInfo, "Starting data message transmission request")
	if sess != nil {
		c.startDataPoll(sess)
	}
}

// EnableEventTransmission toggles the EVENT poll loop. The toggle persists
// across reconnects.
func (c *Client) EnableEventTransmission(enable bool) {
	c.mu.Lock()
	c.eventEnabled = enable
	sess := c.session
	c.mu.Unlock()

	if !enable {
		c.note(slog.LevelInfo, "Stopping event message transmission request")
		c.eventPoll.stop()
		return
	}
	c.note(slog.LevelInfo, "Starting event message transmission request")
	if sess != nil {
		c.startEventPoll(sess)
	}
}

func (c *Client) State() connectors.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Client) Connected() bool {
	return c.State() == connectors.ConnectionStateConnected
}

func (c *Client) DataEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.dataEnabled
}

func (c *Client) EventEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.eventEnabled
}

// Endpoint returns the current TCP endpoint, if the transport has one.
func (c *Client) Endpoint() (transport.Endpoint, bool) {
	addressable, ok := c.transport.(transport.Addressable)
	if !ok {
		return transport.Endpoint{}, false
	}

	return addressable.Endpoint(), true
}

func (c *Client) startSupervisorLocked() {
	c.note(slog.LevelInfo, fmt.Sprintf("Starting connection loop to %s", c.transport.Target()))
	c.supervisor.start(c.base, nil, c.runSupervisor)
}

func (c *Client) runSupervisor(ctx context.Context) {
	retry := backoff.WithContext(backoff.NewConstantBackOff(c.timing.RetryInterval), ctx)
	for {
		if ctx.Err() != nil {
			return
		}
		if !c.Connected() {
			c.tryConnect(ctx)
		}

		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		if !sleepWithContext(ctx, wait) {
			return
		}
	}
}

func (c *Client) tryConnect(ctx context.Context) {
	c.statusMu.Lock()
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		c.statusMu.Unlock()
		return
	}
	changed := c.setStateLocked(connectors.ConnectionStateConnecting)
	c.mu.Unlock()
	if changed {
		c.publishStatus(connectors.ConnectionStateConnecting, nil)
	}
	c.statusMu.Unlock()

	c.note(slog.LevelInfo, fmt.Sprintf("Trying to connect to %s", c.transport.Target()))

	dialCtx, cancel := context.WithTimeout(ctx, c.timing.ConnectTimeout)
	conn, err := c.transport.Dial(dialCtx)
	cancel()
	if err == nil && ctx.Err() != nil {
		_ = conn.Close()
		err = ctx.Err()
	}
	if err != nil {
		c.note(slog.LevelWarn, fmt.Sprintf("Connect failed: %v", err))
		c.statusMu.Lock()
		c.mu.Lock()
		changed := c.session == nil && c.setStateLocked(connectors.ConnectionStateDisconnected)
		c.mu.Unlock()
		if changed {
			c.publishStatus(connectors.ConnectionStateDisconnected, err)
		}
		c.statusMu.Unlock()
		return
	}

	c.statusMu.Lock()
	c.mu.Lock()
	c.sessionSeq++
	sess := newSession(c.base, c.sessionSeq, conn, c.logger.With("session", c.sessionSeq))
	c.session = sess
	c.setStateLocked(connectors.ConnectionStateConnected)
	c.mu.Unlock()
	c.publishStatus(connectors.ConnectionStateConnected, nil)
	c.statusMu.Unlock()

	c.note(slog.LevelInfo, "Connected to server")

	go sess.pump(func(err error) {
		c.note(slog.LevelWarn, fmt.Sprintf("Connection read failed: %v", err))
		c.dropSession(sess, err)
	})
	c.startHeartbeat(sess)
	c.startDataPoll(sess)
	c.startEventPoll(sess)
}

// disconnect drops the current session, if any.
func (c *Client) disconnect(cause error) {
	c.dropSession(c.currentSession(), cause)
}

// dropSession tears sess down if it is still the current session. Stale
// sessions are ignored, so every transition is published exactly once.
// Safe to call from inside a loop of sess: it cancels without waiting.
func (c *Client) dropSession(sess *session, cause error) bool {
	if sess == nil {
		return false
	}

	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return false
	}
	c.session = nil
	changed := c.setStateLocked(connectors.ConnectionStateDisconnected)
	c.mu.Unlock()

	c.note(slog.LevelInfo, "Disconnecting from server")
	sess.close()
	if changed {
		c.publishStatus(connectors.ConnectionStateDisconnected, cause)
	}

	return true
}

func (c *Client) currentSession() *session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session
}

func (c *Client) isCurrent(sess *session) bool {
	return c.currentSession() == sess
}

// setStateLocked records the new state and reports whether it changed.
// Callers hold statusMu and mu.
func (c *Client) setStateLocked(state connectors.ConnectionState) bool {
	if c.state == state {
		return false
	}
	c.state = state

	return true
}

func (c *Client) publishStatus(state connectors.ConnectionState, err error) {
	status := connectors.ConnectionStatus{
		State:         state,
		TransportName: c.transport.Name(),
		Target:        c.transport.Target(),
		Timestamp:     time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	c.logger.Info("connection status", "state", state, "target", status.Target, "error", status.Err)
	c.publish(connectors.TopicConnStatus, status)
}

// note logs msg and mirrors it onto the log-message topic for the UI.
func (c *Client) note(level slog.Level, msg string) {
	c.logger.Log(context.Background(), level, msg)
	c.publish(connectors.TopicLogMessage, connectors.LogLine{
		Level:     level,
		Text:      msg,
		Timestamp: time.Now(),
	})
}

func (c *Client) publish(topic string, msg any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(topic, msg)
}
