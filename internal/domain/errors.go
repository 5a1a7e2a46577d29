package domain

import (
	"fmt"
	"time"
)

// ConfigurationError is fatal at startup: a missing template, a bad config
// key, or an invalid value. It is never produced mid-pipeline for a query.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// TransportError is a network-level failure talking to the provider.
// The inference client retries it once before surfacing.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError means the provider did not answer within the configured
// deadline. Never retried: a second identical call under the same deadline
// pressure is assumed futile.
type TimeoutError struct {
	Elapsed time.Duration
	Limit   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("inference timed out after %s (limit %s)", e.Elapsed, e.Limit)
}

// DeliveryError means a channel failed to deliver an OutgoingMessage.
// Surfaced to the caller, not retried without explicit operator action.
type DeliveryError struct {
	Channel string
	ChatID  string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed on channel %s (chat %s): %v", e.Channel, e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
