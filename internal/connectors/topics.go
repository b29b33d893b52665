package connectors

const (
	TopicConnStatus     = "conn.status"
	TopicDataReceived   = "data.received"
	TopicEventReceived  = "event.received"
	TopicServerResponse = "server.response"
	TopicClientCommand  = "client.command"
	TopicLogMessage     = "log.message"
)

// AllTopics lists every topic the dashboard client publishes on.
var AllTopics = []string{
	TopicConnStatus,
	TopicDataReceived,
	TopicEventReceived,
	TopicServerResponse,
	TopicClientCommand,
	TopicLogMessage,
}
