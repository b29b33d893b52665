package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/skobkin/reefdash/internal/config"
	"github.com/skobkin/reefdash/internal/transport"
)

// SwitchableTransport wraps the active connector and lets runtime swap it on config updates.
// Connections already dialed keep using the transport that produced them.
type SwitchableTransport struct {
	mu sync.RWMutex

	cfg       config.ConnectionConfig
	transport transport.Transport
}

func NewConnectionTransport(cfg config.ConnectionConfig) (*SwitchableTransport, error) {
	tr, err := newTransportForConnection(cfg)
	if err != nil {
		return nil, err
	}

	return &SwitchableTransport{
		cfg:       cfg,
		transport: tr,
	}, nil
}

// Apply replaces the backend. It reports whether the connector kind or its
// serial settings changed, which requires a fresh connection.
func (t *SwitchableTransport) Apply(cfg config.ConnectionConfig) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.cfg
	if prev.Connector == config.ConnectorIP && cfg.Connector == config.ConnectorIP {
		// Endpoint changes go through SetEndpoint so the client can reconnect.
		t.cfg = cfg
		return false, nil
	}

	next, err := newTransportForConnection(cfg)
	if err != nil {
		return false, err
	}
	t.transport = next
	t.cfg = cfg

	return prev != cfg, nil
}

func (t *SwitchableTransport) Name() string {
	tr := t.current()
	if tr == nil {
		return "unknown"
	}

	return tr.Name()
}

func (t *SwitchableTransport) Target() string {
	t.mu.RLock()
	tr := t.transport
	cfg := t.cfg
	t.mu.RUnlock()

	if tr != nil {
		if target := strings.TrimSpace(tr.Target()); target != "" {
			return target
		}
	}

	return ConnectionTarget(cfg)
}

func (t *SwitchableTransport) Dial(ctx context.Context) (transport.Conn, error) {
	tr := t.current()
	if tr == nil {
		return nil, fmt.Errorf("transport is not configured")
	}

	return tr.Dial(ctx)
}

func (t *SwitchableTransport) Endpoint() transport.Endpoint {
	if addressable, ok := t.current().(transport.Addressable); ok {
		return addressable.Endpoint()
	}

	return transport.Endpoint{}
}

func (t *SwitchableTransport) SetEndpoint(ep transport.Endpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	addressable, ok := t.transport.(transport.Addressable)
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrAddressUnsupported, t.transport.Name())
	}
	if err := addressable.SetEndpoint(ep); err != nil {
		return err
	}
	t.cfg.Host = ep.Host
	t.cfg.Port = ep.Port

	return nil
}

func (t *SwitchableTransport) current() transport.Transport {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.transport
}

func (t *SwitchableTransport) Config() config.ConnectionConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.cfg
}

func NewTransportForConnection(cfg config.ConnectionConfig) (transport.Transport, error) {
	return newTransportForConnection(cfg)
}

func newTransportForConnection(cfg config.ConnectionConfig) (transport.Transport, error) {
	switch cfg.Connector {
	case config.ConnectorIP:
		return transport.NewIPTransport(cfg.Host, cfg.Port), nil
	case config.ConnectorSerial:
		return transport.NewSerialTransport(cfg.SerialPort, cfg.SerialBaud), nil
	default:
		return nil, fmt.Errorf("unknown connector: %q", cfg.Connector)
	}
}
