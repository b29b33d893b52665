package connectors

import (
	"log/slog"
	"time"
)

// ConnectionState describes the client connection lifecycle state.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
)

// ConnectionStatus is a bus event snapshot published on every state transition.
type ConnectionStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Timestamp     time.Time
}

// Connected reports the boolean form of the status used by simple observers.
func (s ConnectionStatus) Connected() bool {
	return s.State == ConnectionStateConnected
}

// EventKind is the severity of a server-side event record.
type EventKind string

const (
	EventKindNotice EventKind = "notice"
	EventKindError  EventKind = "error"
)

// EventRecord is one decoded entry of an EVENT batch.
type EventRecord struct {
	Kind       EventKind
	Message    string
	ReceivedAt time.Time
}

// DataPoint carries a DATA reply verbatim. The payload format belongs to the UI.
type DataPoint struct {
	Payload    string
	ReceivedAt time.Time
}

// ClientCommand is an outbound command line sent by the command dispatcher.
type ClientCommand struct {
	Line   string
	SentAt time.Time
}

// ServerResponse is the raw reply to a dispatcher command.
type ServerResponse struct {
	Command    string
	Line       string
	ReceivedAt time.Time
}

// LogLine is an operator-facing diagnostic message.
type LogLine struct {
	Level     slog.Level
	Text      string
	Timestamp time.Time
}
