package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"agriguard/internal/bus"
	"agriguard/internal/classify"
	"agriguard/internal/compose"
	"agriguard/internal/config"
	"agriguard/internal/dispatch"
	"agriguard/internal/domain"
	"agriguard/internal/format"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubProvider returns a canned response or error for every call.
type stubProvider struct {
	mu    sync.Mutex
	resp  *domain.InferenceResponse
	err   error
	calls int
}

func (s *stubProvider) Name() string     { return "stub" }
func (s *stubProvider) Models() []string { return []string{"stub-model"} }

func (s *stubProvider) Healthy(ctx context.Context) error { return nil }

func (s *stubProvider) Complete(ctx context.Context, req domain.InferenceRequest) (*domain.InferenceResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

// stubChannel records sends and can fail on demand.
type stubChannel struct {
	mu    sync.Mutex
	name  string
	fail  error
	sends []string
	chats []string
}

func (s *stubChannel) Name() string                                         { return s.name }
func (s *stubChannel) Start(ctx context.Context, b domain.MessageBus) error { return nil }
func (s *stubChannel) Stop() error                                          { return nil }

func (s *stubChannel) Send(ctx context.Context, chatID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sends = append(s.sends, content)
	s.chats = append(s.chats, chatID)
	return nil
}

func (s *stubChannel) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sends...)
}

type fixture struct {
	pipeline *Pipeline
	provider *stubProvider
	cli      *stubChannel
	alert    *stubChannel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Defaults()

	classifier := classify.New(cfg.Classifier, testLogger())

	composer, err := compose.New(compose.Params{
		Model: "stub-model", MaxTokens: 512, Temperature: 0.3, Timeout: time.Second,
	}, cfg.Classifier.UrgencyThreshold, nil, testLogger())
	if err != nil {
		t.Fatalf("compose.New: %v", err)
	}

	formatter, err := format.New(config.FormatterConfig{
		MaxDisplayLength:   1600,
		SupportedLanguages: []string{"en", "hi"},
		DefaultLanguage:    "en",
		FallbackMessage:    "unable to answer right now, please try again",
	}, testLogger())
	if err != nil {
		t.Fatalf("format.New: %v", err)
	}

	events := bus.NewEventBus(testLogger())
	cli := &stubChannel{name: "cli"}
	alert := &stubChannel{name: "telegram"}
	dispatcher := dispatch.New(config.AlertsConfig{
		Enabled: true, Channel: "telegram", Recipient: "agronomist",
	}, events, testLogger())
	dispatcher.Register(cli)
	dispatcher.Register(alert)

	provider := &stubProvider{resp: &domain.InferenceResponse{
		Status:  domain.StatusSuccess,
		Text:    "Spray neem oil in the evening and remove affected leaves.",
		Latency: 120 * time.Millisecond,
	}}

	p := New(Options{
		Classifier:       classifier,
		Composer:         composer,
		Provider:         provider,
		Formatter:        formatter,
		Dispatcher:       dispatcher,
		Events:           events,
		Logger:           testLogger(),
		UrgencyThreshold: cfg.Classifier.UrgencyThreshold,
		MaxConcurrent:    4,
	})
	return &fixture{pipeline: p, provider: provider, cli: cli, alert: alert}
}

func inbound(text string) domain.InboundMessage {
	return domain.InboundMessage{
		Channel:   "cli",
		ChatID:    "direct",
		SenderID:  "farmer-1",
		Content:   text,
		Language:  "en",
		Timestamp: time.Now(),
	}
}

func TestProcess_UrgentPestQueryAlertsAndReplies(t *testing.T) {
	fx := newFixture(t)

	adv := fx.pipeline.Process(context.Background(), inbound("aphids on my tomato leaves"))

	if adv.Category.Category != domain.CategoryPest {
		t.Fatalf("category = %s, want pest", adv.Category.Category)
	}
	if adv.Status != domain.StatusSuccess {
		t.Fatalf("status = %s", adv.Status)
	}
	if adv.State != domain.StateDelivered {
		t.Fatalf("state = %s, want delivered", adv.State)
	}
	if !adv.Message.Urgent {
		t.Error("successful pest advisory should be urgent")
	}
	if got := fx.cli.sent(); len(got) != 1 || !strings.Contains(got[0], "neem oil") {
		t.Errorf("reply = %v", got)
	}
	if got := fx.alert.sent(); len(got) != 1 {
		t.Errorf("alert channel sends = %d, want 1", len(got))
	}
}

func TestProcess_TimeoutDeliversFallbackWithoutAlert(t *testing.T) {
	fx := newFixture(t)
	fx.provider.resp = &domain.InferenceResponse{
		Status:    domain.StatusTimeout,
		ErrDetail: "inference timed out after 2s",
		Latency:   2 * time.Second,
	}

	adv := fx.pipeline.Process(context.Background(), inbound("aphids on my tomato leaves"))

	if adv.Status != domain.StatusTimeout {
		t.Fatalf("status = %s, want timeout", adv.Status)
	}
	if adv.State != domain.StateDelivered {
		t.Fatalf("state = %s: the fallback must still be delivered", adv.State)
	}
	if adv.Message.Urgent {
		t.Error("a fallback message must never be urgent")
	}
	if got := fx.alert.sent(); len(got) != 0 {
		t.Errorf("fallback must not reach the alert channel: %v", got)
	}
	got := fx.cli.sent()
	if len(got) != 1 {
		t.Fatalf("reply sends = %d, want 1", len(got))
	}
	if strings.Contains(got[0], "timed out") {
		t.Errorf("raw error leaked: %q", got[0])
	}
}

func TestProcess_PanickedMarketQueryNeverAlerts(t *testing.T) {
	fx := newFixture(t)

	adv := fx.pipeline.Process(context.Background(),
		inbound("price falling fast, urgent help, emergency, when do I sell"))

	if adv.Category.Category != domain.CategoryMarket {
		t.Fatalf("category = %s, want market", adv.Category.Category)
	}
	if adv.Query.Urgency < 4 {
		t.Fatalf("urgency = %d, want keyword-inflated urgency", adv.Query.Urgency)
	}
	if adv.Message.Urgent {
		t.Error("market advisory must not be urgent regardless of urgency score")
	}
	if got := fx.alert.sent(); len(got) != 0 {
		t.Errorf("market advisory reached the alert channel: %v", got)
	}
	if got := fx.cli.sent(); len(got) != 1 {
		t.Errorf("reply sends = %d, want 1", len(got))
	}
}

func TestProcess_UrgentWeatherQueryAlerts(t *testing.T) {
	fx := newFixture(t)

	adv := fx.pipeline.Process(context.Background(),
		inbound("hail storm tonight, help immediately"))

	if adv.Category.Category != domain.CategoryWeather {
		t.Fatalf("category = %s, want weather", adv.Category.Category)
	}
	if !adv.Message.Urgent {
		t.Error("severe weather advisory should be urgent")
	}
	if got := fx.alert.sent(); len(got) != 1 {
		t.Errorf("alert channel sends = %d, want 1", len(got))
	}
}

func TestProcess_DeliveryFailureIsTerminal(t *testing.T) {
	fx := newFixture(t)
	fx.cli.fail = errors.New("connection reset")

	adv := fx.pipeline.Process(context.Background(), inbound("when should I sell my wheat"))

	if adv.State != domain.StateDeliveryFailed {
		t.Fatalf("state = %s, want delivery_failed", adv.State)
	}
	var derr *domain.DeliveryError
	if !errors.As(adv.Delivery.Err, &derr) {
		t.Errorf("delivery err = %v, want *domain.DeliveryError", adv.Delivery.Err)
	}
}

func TestProcess_ProviderAbortStillTerminates(t *testing.T) {
	fx := newFixture(t)
	fx.provider.resp = nil
	fx.provider.err = context.Canceled

	adv := fx.pipeline.Process(context.Background(), inbound("soil moisture advice"))

	if adv.Status != domain.StatusFailure {
		t.Fatalf("status = %s, want failure", adv.Status)
	}
	if !adv.State.Terminal() {
		t.Fatalf("state = %s, want a terminal state", adv.State)
	}
}

func TestProcess_AssignsUniqueIDs(t *testing.T) {
	fx := newFixture(t)

	a := fx.pipeline.Process(context.Background(), inbound("first question"))
	b := fx.pipeline.Process(context.Background(), inbound("second question"))

	if a.Query.ID == "" || b.Query.ID == "" {
		t.Fatal("query IDs must be assigned")
	}
	if a.Query.ID == b.Query.ID {
		t.Error("query IDs must be unique")
	}
}

func TestProcessBatch_ReturnsMostUrgentPrimary(t *testing.T) {
	fx := newFixture(t)

	advisories, primary := fx.pipeline.ProcessBatch(context.Background(), []domain.InboundMessage{
		inbound("what is the market rate for onions"),
		inbound("locust swarm destroying the whole field, emergency"),
		inbound("how much water for drip irrigation"),
	})

	if len(advisories) != 3 {
		t.Fatalf("len = %d", len(advisories))
	}
	if primary != 1 {
		t.Errorf("primary = %d, want the locust query", primary)
	}
	for i, adv := range advisories {
		if !adv.State.Terminal() {
			t.Errorf("advisory %d state = %s, want terminal", i, adv.State)
		}
	}
}

func TestRun_ConsumesBusUntilClosed(t *testing.T) {
	fx := newFixture(t)
	mb := bus.New(10, testLogger())

	done := make(chan error, 1)
	go func() { done <- fx.pipeline.Run(context.Background(), mb) }()

	mb.Publish(inbound("aphids on my tomato leaves"))
	mb.Publish(inbound("when should I sell my wheat"))
	mb.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after bus close")
	}

	if got := fx.cli.sent(); len(got) != 2 {
		t.Errorf("replies = %d, want 2", len(got))
	}
}

func TestRateLimiter_Waits(t *testing.T) {
	rl := NewRateLimiter(1, 600) // 10/s refill

	if err := rl.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("second call should have waited for a token")
	}
}

func TestRateLimiter_CancelledContext(t *testing.T) {
	rl := NewRateLimiter(1, 1) // very slow refill
	rl.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
