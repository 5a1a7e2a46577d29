package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Event is one lifecycle occurrence in the query pipeline.
type Event struct {
	Type      string         // e.g. "query.received", "inference.completed"
	Source    string         // originating component
	Payload   map[string]any // event-specific data
	Timestamp time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe system for pipeline lifecycle
// events. Handlers run synchronously in registration order; "*" subscribes
// to everything.
type EventBus struct {
	handlers map[string][]EventHandler
	mu       sync.RWMutex
	logger   *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]EventHandler),
		logger:   logger,
	}
}

// On registers a handler for the given event type. Use "*" for all events.
func (eb *EventBus) On(eventType string, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Emit publishes an event to all matching handlers. A panicking handler is
// contained so one bad subscriber cannot take down the pipeline.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		func(handler EventHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "panic", r)
				}
			}()
			handler(event)
		}(h)
	}
}

// Well-known event types emitted by the pipeline.
const (
	EventQueryReceived      = "query.received"
	EventQueryClassified    = "query.classified"
	EventInferenceCompleted = "inference.completed"
	EventAdvisoryDispatched = "advisory.dispatched"
	EventAlertSent          = "alert.sent"
	EventDeliveryFailed     = "delivery.failed"
)
