package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"agriguard/internal/bus"
	"agriguard/internal/config"
	"agriguard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockChannel records sends and can be told to fail.
type mockChannel struct {
	name  string
	fail  error
	sends []sentMessage
}

type sentMessage struct {
	chatID  string
	content string
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Start(ctx context.Context, b domain.MessageBus) error { return nil }
func (m *mockChannel) Stop() error                                          { return nil }

func (m *mockChannel) Send(ctx context.Context, chatID, content string) error {
	if m.fail != nil {
		return m.fail
	}
	m.sends = append(m.sends, sentMessage{chatID: chatID, content: content})
	return nil
}

func newTestDispatcher(alerts config.AlertsConfig, chans ...*mockChannel) *Dispatcher {
	d := New(alerts, bus.NewEventBus(testLogger()), testLogger())
	for _, ch := range chans {
		d.Register(ch)
	}
	return d
}

func TestDispatch_DeliversReply(t *testing.T) {
	cli := &mockChannel{name: "cli"}
	d := newTestDispatcher(config.AlertsConfig{}, cli)

	res := d.Dispatch(context.Background(), domain.OutgoingMessage{
		Text: "rotate your crops", Channel: "cli", ChatID: "direct",
	})

	if !res.Delivered {
		t.Fatalf("Delivered = false, err = %v", res.Err)
	}
	if len(cli.sends) != 1 || cli.sends[0].content != "rotate your crops" {
		t.Errorf("sends = %+v", cli.sends)
	}
}

func TestDispatch_UrgentSendsAlertAndReply(t *testing.T) {
	cli := &mockChannel{name: "cli"}
	tg := &mockChannel{name: "telegram"}
	d := newTestDispatcher(config.AlertsConfig{
		Enabled: true, Channel: "telegram", Recipient: "agronomist",
	}, cli, tg)

	res := d.Dispatch(context.Background(), domain.OutgoingMessage{
		Text: "locust swarm reported", Channel: "cli", ChatID: "direct", Urgent: true,
	})

	if !res.Delivered {
		t.Fatalf("reply not delivered: %v", res.Err)
	}
	if len(tg.sends) != 1 {
		t.Fatalf("alert sends = %d, want 1", len(tg.sends))
	}
	if tg.sends[0].chatID != "agronomist" {
		t.Errorf("alert recipient = %q", tg.sends[0].chatID)
	}
	if tg.sends[0].content == "locust swarm reported" {
		t.Error("alert copy should carry the urgency prefix")
	}
	if len(cli.sends) != 1 {
		t.Errorf("reply sends = %d, want 1", len(cli.sends))
	}
}

func TestDispatch_NonUrgentSkipsAlert(t *testing.T) {
	cli := &mockChannel{name: "cli"}
	tg := &mockChannel{name: "telegram"}
	d := newTestDispatcher(config.AlertsConfig{
		Enabled: true, Channel: "telegram", Recipient: "agronomist",
	}, cli, tg)

	d.Dispatch(context.Background(), domain.OutgoingMessage{
		Text: "mulch retains moisture", Channel: "cli", ChatID: "direct",
	})

	if len(tg.sends) != 0 {
		t.Errorf("non-urgent message reached the alert channel: %+v", tg.sends)
	}
}

func TestDispatch_AlertFailureDoesNotFailQuery(t *testing.T) {
	cli := &mockChannel{name: "cli"}
	tg := &mockChannel{name: "telegram", fail: errors.New("telegram down")}
	d := newTestDispatcher(config.AlertsConfig{
		Enabled: true, Channel: "telegram", Recipient: "agronomist",
	}, cli, tg)

	res := d.Dispatch(context.Background(), domain.OutgoingMessage{
		Text: "stem borer outbreak", Channel: "cli", ChatID: "direct", Urgent: true,
	})

	if !res.Delivered {
		t.Fatalf("alert failure must not fail the reply: %v", res.Err)
	}
	if len(cli.sends) != 1 {
		t.Errorf("reply sends = %d, want 1", len(cli.sends))
	}
}

func TestDispatch_AlertSkippedWhenTargetIsReplyTarget(t *testing.T) {
	tg := &mockChannel{name: "telegram"}
	d := newTestDispatcher(config.AlertsConfig{
		Enabled: true, Channel: "telegram", Recipient: "12345",
	}, tg)

	d.Dispatch(context.Background(), domain.OutgoingMessage{
		Text: "urgent advice", Channel: "telegram", ChatID: "12345", Urgent: true,
	})

	if len(tg.sends) != 1 {
		t.Errorf("sends = %d, want exactly the reply (no duplicate alert)", len(tg.sends))
	}
}

func TestDispatch_SendFailureYieldsDeliveryError(t *testing.T) {
	cli := &mockChannel{name: "cli", fail: errors.New("pipe closed")}
	d := newTestDispatcher(config.AlertsConfig{}, cli)

	res := d.Dispatch(context.Background(), domain.OutgoingMessage{
		Text: "x", Channel: "cli", ChatID: "direct",
	})

	if res.Delivered {
		t.Fatal("Delivered = true for a failed send")
	}
	var derr *domain.DeliveryError
	if !errors.As(res.Err, &derr) {
		t.Fatalf("err = %v, want *domain.DeliveryError", res.Err)
	}
	if derr.Channel != "cli" || derr.ChatID != "direct" {
		t.Errorf("error context = %+v", derr)
	}
}

func TestDispatch_UnknownChannel(t *testing.T) {
	d := newTestDispatcher(config.AlertsConfig{})

	res := d.Dispatch(context.Background(), domain.OutgoingMessage{
		Text: "x", Channel: "carrier-pigeon", ChatID: "coop",
	})

	if res.Delivered {
		t.Fatal("Delivered = true for unregistered channel")
	}
	var derr *domain.DeliveryError
	if !errors.As(res.Err, &derr) {
		t.Fatalf("err = %v, want *domain.DeliveryError", res.Err)
	}
}
