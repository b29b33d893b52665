package dash

import (
	"github.com/skobkin/reefdash/internal/connectors"
	"github.com/skobkin/reefdash/internal/protocol"
)

// Codec translates between command/reply lines and domain values.
type Codec interface {
	EncodeHeartbeat() string
	EncodeDataRequest() string
	EncodeEventRequest() string
	EncodeQuery(kind protocol.QueryKind, index int) (string, error)
	EncodeGet(indices []int) (string, error)
	IsHeartbeatReply(line string) bool
	DecodeEvents(line string) ([]connectors.EventRecord, error)
}
