// Package dispatch routes formatted advisories to their output channels.
// Every message resolves to an explicit DeliveryResult — delivered or
// delivery_failed — never a silent drop.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"agriguard/internal/bus"
	"agriguard/internal/config"
	"agriguard/internal/domain"
	"agriguard/internal/metrics"
)

// Dispatcher delivers outgoing messages through registered channels. Urgent
// advisories additionally go to the configured alert channel; the alert copy
// is best-effort and does not decide the query's terminal state, which
// belongs to the reply the farmer is waiting on.
type Dispatcher struct {
	mu       sync.RWMutex
	channels map[string]domain.Channel
	alerts   config.AlertsConfig
	events   *bus.EventBus
	logger   *slog.Logger
}

func New(alerts config.AlertsConfig, events *bus.EventBus, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		channels: make(map[string]domain.Channel),
		alerts:   alerts,
		events:   events,
		logger:   logger,
	}
}

// Register makes a channel available for delivery under its name.
func (d *Dispatcher) Register(ch domain.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.Name()] = ch
}

// Dispatch delivers one message: the reply on the channel the query arrived
// on, plus an alert copy when the message is urgent and alerting is enabled.
// A failed reply is surfaced as a DeliveryError inside the result.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.OutgoingMessage) domain.DeliveryResult {
	if msg.Urgent && d.alerts.Enabled {
		d.sendAlert(ctx, msg)
	}

	ch, ok := d.channel(msg.Channel)
	if !ok {
		err := &domain.DeliveryError{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Err:     fmt.Errorf("no channel registered under %q", msg.Channel),
		}
		d.failed(msg, err)
		return domain.DeliveryResult{Delivered: false, Channel: msg.Channel, Err: err}
	}

	if err := ch.Send(ctx, msg.ChatID, msg.Text); err != nil {
		derr := &domain.DeliveryError{Channel: msg.Channel, ChatID: msg.ChatID, Err: err}
		d.failed(msg, derr)
		return domain.DeliveryResult{Delivered: false, Channel: msg.Channel, Err: derr}
	}

	d.events.Emit(bus.Event{
		Type:    bus.EventAdvisoryDispatched,
		Source:  "dispatch",
		Payload: map[string]any{"channel": msg.Channel, "chat": msg.ChatID, "urgent": msg.Urgent},
	})
	return domain.DeliveryResult{Delivered: true, Channel: msg.Channel}
}

// sendAlert pushes the urgent advisory to the alert channel and recipient.
// Failure here is logged and counted but does not fail the query: the open
// question of cross-channel fallback is resolved by always delivering the
// normal reply alongside the alert.
func (d *Dispatcher) sendAlert(ctx context.Context, msg domain.OutgoingMessage) {
	if d.alerts.Channel == msg.Channel && d.alerts.Recipient == msg.ChatID {
		return // the reply already reaches the alert recipient
	}

	ch, ok := d.channel(d.alerts.Channel)
	if !ok {
		d.logger.Error("alert channel not registered", "channel", d.alerts.Channel)
		metrics.DeliveryFailures.Inc()
		return
	}

	if err := ch.Send(ctx, d.alerts.Recipient, "⚠️ "+msg.Text); err != nil {
		d.logger.Error("alert delivery failed",
			"channel", d.alerts.Channel,
			"recipient", d.alerts.Recipient,
			"err", err,
		)
		metrics.DeliveryFailures.Inc()
		d.events.Emit(bus.Event{
			Type:    bus.EventDeliveryFailed,
			Source:  "dispatch",
			Payload: map[string]any{"channel": d.alerts.Channel, "alert": true},
		})
		return
	}

	metrics.AlertsTotal.Inc()
	d.events.Emit(bus.Event{
		Type:   bus.EventAlertSent,
		Source: "dispatch",
		Payload: map[string]any{
			"id":        msg.QueryID,
			"channel":   d.alerts.Channel,
			"recipient": d.alerts.Recipient,
			"urgency":   msg.Urgency,
		},
	})
}

func (d *Dispatcher) channel(name string) (domain.Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[name]
	return ch, ok
}

func (d *Dispatcher) failed(msg domain.OutgoingMessage, err *domain.DeliveryError) {
	d.logger.Error("delivery failed", "channel", msg.Channel, "chat", msg.ChatID, "err", err)
	metrics.DeliveryFailures.Inc()
	d.events.Emit(bus.Event{
		Type:    bus.EventDeliveryFailed,
		Source:  "dispatch",
		Payload: map[string]any{"channel": msg.Channel, "chat": msg.ChatID},
	})
}
