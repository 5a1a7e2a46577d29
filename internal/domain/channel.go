package domain

import "context"

// Channel is the interface for user-facing I/O (Telegram, WhatsApp, CLI, ...).
// Start publishes inbound messages to the bus; Send delivers one message and
// reports failure so the dispatcher can surface a DeliveryError.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, chatID string, content string) error
}
