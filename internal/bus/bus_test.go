package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"

	"agriguard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(4, testLogger())
	defer b.Close()

	b.Publish(domain.InboundMessage{Channel: "cli", Content: "aphids on my wheat"})

	got := <-b.Subscribe()
	if got.Content != "aphids on my wheat" {
		t.Errorf("got %q", got.Content)
	}
	if got.Channel != "cli" {
		t.Errorf("channel = %q, want cli", got.Channel)
	}
}

func TestInMemoryBus_PublishAfterClose(t *testing.T) {
	b := New(1, testLogger())
	b.Close()
	// Must not panic or block.
	b.Publish(domain.InboundMessage{Channel: "cli", Content: "ignored"})
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testLogger())

	var received int32
	eb.On(EventQueryReceived, func(e Event) {
		atomic.AddInt32(&received, 1)
	})

	eb.Emit(Event{Type: EventQueryReceived, Payload: map[string]any{"channel": "cli"}})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testLogger())

	var count int32
	eb.On("*", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventQueryClassified})
	eb.Emit(Event{Type: EventInferenceCompleted})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_HandlerPanicContained(t *testing.T) {
	eb := NewEventBus(testLogger())

	var after int32
	eb.On(EventDeliveryFailed, func(e Event) { panic("boom") })
	eb.On(EventDeliveryFailed, func(e Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: EventDeliveryFailed})

	if atomic.LoadInt32(&after) != 1 {
		t.Error("handler after panicking handler did not run")
	}
}

func TestEventBus_SetsTimestamp(t *testing.T) {
	eb := NewEventBus(testLogger())

	var stamped bool
	eb.On(EventAlertSent, func(e Event) {
		stamped = !e.Timestamp.IsZero()
	})
	eb.Emit(Event{Type: EventAlertSent})

	if !stamped {
		t.Error("expected Emit to set a timestamp")
	}
}
