// Package notifications delivers operator alerts outside the terminal.
package notifications

// Payload is one operator alert. Urgent payloads also request a sound.
type Payload struct {
	Title   string
	Content string
	Urgent  bool
}

type Sender interface {
	Send(payload Payload)
}
