package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/skobkin/reefdash/internal/connectors"
)

const (
	eventPrefix          = "EVENT:"
	eventRecordSeparator = "|"
	eventFieldSeparator  = ","
)

var (
	ErrNotEventBatch    = errors.New("not an event batch")
	ErrMalformedEvent   = errors.New("malformed event record")
	ErrUnknownEventKind = errors.New("unknown event kind")
)

// IsEventBatch reports whether line carries the EVENT: prefix.
func IsEventBatch(line string) bool {
	return strings.HasPrefix(line, eventPrefix)
}

// ParseEventBatch decodes "EVENT:<kind>,<message>|<kind>,<message>|...".
// The batch is all-or-nothing: one bad record fails the whole line.
func ParseEventBatch(line string) ([]connectors.EventRecord, error) {
	if !IsEventBatch(line) {
		return nil, ErrNotEventBatch
	}

	body := strings.TrimPrefix(line, eventPrefix)
	if body == "" {
		return nil, nil
	}

	records := strings.Split(body, eventRecordSeparator)
	out := make([]connectors.EventRecord, 0, len(records))
	for i, rec := range records {
		rawKind, message, ok := strings.Cut(rec, eventFieldSeparator)
		if !ok {
			return nil, fmt.Errorf("%w: record %d %q has no message", ErrMalformedEvent, i, rec)
		}
		kind, err := parseEventKind(rawKind)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, connectors.EventRecord{Kind: kind, Message: message})
	}

	return out, nil
}

func parseEventKind(raw string) (connectors.EventKind, error) {
	switch connectors.EventKind(raw) {
	case connectors.EventKindNotice:
		return connectors.EventKindNotice, nil
	case connectors.EventKindError:
		return connectors.EventKindError, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEventKind, raw)
	}
}
