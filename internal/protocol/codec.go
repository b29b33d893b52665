package protocol

import "github.com/skobkin/reefdash/internal/connectors"

// LineCodec implements the dashboard line protocol.
type LineCodec struct{}

func NewLineCodec() LineCodec {
	return LineCodec{}
}

func (LineCodec) EncodeHeartbeat() string {
	return CommandPing
}

func (LineCodec) EncodeDataRequest() string {
	return CommandData
}

func (LineCodec) EncodeEventRequest() string {
	return CommandEvent
}

func (LineCodec) EncodeQuery(kind QueryKind, index int) (string, error) {
	return EncodeQuery(kind, index)
}

func (LineCodec) EncodeGet(indices []int) (string, error) {
	return EncodeGet(indices)
}

func (LineCodec) IsHeartbeatReply(line string) bool {
	return IsPong(line)
}

func (LineCodec) DecodeEvents(line string) ([]connectors.EventRecord, error) {
	return ParseEventBatch(line)
}
