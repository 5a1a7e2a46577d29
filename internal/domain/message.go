package domain

import "time"

// InboundMessage is the opaque text-in boundary: a raw message from any
// channel before it becomes a Query.
type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Language  string // ISO 639-1 hint from the channel, may be empty
	Timestamp time.Time
}
