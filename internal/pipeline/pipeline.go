// Package pipeline drives a query through its full lifecycle: classify,
// compose, infer, format, dispatch. Every query that enters reaches exactly
// one terminal state, delivered or delivery_failed, no matter what the
// provider does in between.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"agriguard/internal/bus"
	"agriguard/internal/classify"
	"agriguard/internal/compose"
	"agriguard/internal/dispatch"
	"agriguard/internal/domain"
	"agriguard/internal/format"
	"agriguard/internal/history"
	"agriguard/internal/metrics"
)

const historyWriteTimeout = 5 * time.Second

// Pipeline owns the per-query state machine and the bounded worker pool that
// runs it. Components are stateless with respect to queries, so one pipeline
// instance serves all channels concurrently.
type Pipeline struct {
	classifier *classify.Classifier
	composer   *compose.Composer
	provider   domain.Provider
	formatter  *format.Formatter
	dispatcher *dispatch.Dispatcher
	store      *history.Store // nil when history is disabled
	limiter    *RateLimiter   // nil when the provider has no rate limit
	events     *bus.EventBus
	logger     *slog.Logger

	urgencyThreshold int
	maxConcurrent    int
}

type Options struct {
	Classifier       *classify.Classifier
	Composer         *compose.Composer
	Provider         domain.Provider
	Formatter        *format.Formatter
	Dispatcher       *dispatch.Dispatcher
	Store            *history.Store
	Limiter          *RateLimiter
	Events           *bus.EventBus
	Logger           *slog.Logger
	UrgencyThreshold int
	MaxConcurrent    int
}

func New(opts Options) *Pipeline {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.UrgencyThreshold <= 0 {
		opts.UrgencyThreshold = 4
	}
	return &Pipeline{
		classifier:       opts.Classifier,
		composer:         opts.Composer,
		provider:         opts.Provider,
		formatter:        opts.Formatter,
		dispatcher:       opts.Dispatcher,
		store:            opts.Store,
		limiter:          opts.Limiter,
		events:           opts.Events,
		logger:           opts.Logger,
		urgencyThreshold: opts.UrgencyThreshold,
		maxConcurrent:    opts.MaxConcurrent,
	}
}

// Run consumes inbound messages from the bus until the context is cancelled
// or the bus closes. Each message is processed on its own goroutine, bounded
// by the configured concurrency limit.
func (p *Pipeline) Run(ctx context.Context, mb domain.MessageBus) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)

	inbound := mb.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case msg, ok := <-inbound:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				p.Process(ctx, msg)
				return nil
			})
		}
	}
}

// Process runs one inbound message through the full pipeline and returns the
// completed advisory. It never returns early: failures inside become the
// fallback message, and the advisory always carries a terminal state.
func (p *Pipeline) Process(ctx context.Context, msg domain.InboundMessage) domain.Advisory {
	metrics.QueriesTotal.Inc()
	metrics.InflightQueries.Inc()
	defer metrics.InflightQueries.Dec()

	started := time.Now()

	q := domain.Query{
		ID:        uuid.NewString(),
		Text:      msg.Content,
		Language:  p.formatter.ResolveLanguage(msg.Language),
		SessionID: msg.SenderID,
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		Timestamp: started,
	}
	p.events.Emit(bus.Event{
		Type:    bus.EventQueryReceived,
		Source:  "pipeline",
		Payload: map[string]any{"id": q.ID, "channel": q.Channel},
	})

	cr := p.classifier.Classify(q.Text)
	q.Category = cr.Category
	q.Urgency = p.classifier.Urgency(q.Text, cr.Category)
	p.events.Emit(bus.Event{
		Type:   bus.EventQueryClassified,
		Source: "pipeline",
		Payload: map[string]any{
			"id":         q.ID,
			"category":   string(cr.Category),
			"confidence": cr.Confidence,
			"urgency":    q.Urgency,
		},
	})

	resp := p.infer(ctx, q, cr)

	outMsg := p.formatter.Format(resp, q)
	// Only a successful pest or weather answer earns the urgency flag. A
	// fallback for a timed-out pest query must not page the agronomist with
	// non-advice, and an anxious market question is never an emergency.
	outMsg.Urgent = resp != nil &&
		resp.Status == domain.StatusSuccess &&
		(q.Category == domain.CategoryPest || q.Category == domain.CategoryWeather) &&
		q.Urgency >= p.urgencyThreshold

	delivery := p.dispatcher.Dispatch(ctx, outMsg)

	state := domain.StateDelivered
	if !delivery.Delivered {
		state = domain.StateDeliveryFailed
	}

	adv := domain.Advisory{
		Query:    q,
		Category: cr,
		Message:  outMsg,
		Delivery: delivery,
		State:    state,
		Latency:  time.Since(started),
	}
	if resp != nil {
		adv.Status = resp.Status
		adv.InferenceLatency = resp.Latency
	} else {
		adv.Status = domain.StatusFailure
	}

	metrics.QueryLatency.Observe(adv.Latency.Seconds())
	p.record(adv)

	p.logger.Info("query completed",
		"id", q.ID,
		"category", string(cr.Category),
		"urgency", q.Urgency,
		"status", string(adv.Status),
		"state", string(adv.State),
		"latency", adv.Latency,
	)
	return adv
}

// ProcessBatch runs several queries concurrently and returns their advisories
// in input order, with the index of the most urgent one. Useful for seasonal
// bulk intake where a field officer submits a batch of farmer questions.
func (p *Pipeline) ProcessBatch(ctx context.Context, msgs []domain.InboundMessage) ([]domain.Advisory, int) {
	advisories := make([]domain.Advisory, len(msgs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)
	for i, msg := range msgs {
		g.Go(func() error {
			advisories[i] = p.Process(ctx, msg)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; Process handles its own

	primary := 0
	for i, adv := range advisories {
		if adv.Query.Urgency > advisories[primary].Query.Urgency {
			primary = i
		}
	}
	return advisories, primary
}

// infer composes the prompt and calls the provider, translating every failure
// mode into an InferenceResponse the formatter can act on. A nil return means
// the fallback path with StatusFailure.
func (p *Pipeline) infer(ctx context.Context, q domain.Query, cr domain.CategoryResult) *domain.InferenceResponse {
	req, err := p.composer.Compose(q, cr)
	if err != nil {
		p.logger.Error("prompt composition failed", "id", q.ID, "err", err)
		return &domain.InferenceResponse{Status: domain.StatusFailure, ErrDetail: err.Error()}
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return &domain.InferenceResponse{Status: domain.StatusFailure, ErrDetail: err.Error()}
		}
	}

	metrics.InferenceRequests.Inc()
	resp, err := p.provider.Complete(ctx, req)
	if err != nil {
		// Cancellation or a malformed request: resolve to failure so the
		// query still reaches a terminal state.
		p.logger.Warn("inference aborted", "id", q.ID, "err", err)
		metrics.InferenceFailures.Inc()
		return &domain.InferenceResponse{Status: domain.StatusFailure, ErrDetail: err.Error()}
	}

	switch resp.Status {
	case domain.StatusTimeout:
		metrics.InferenceTimeouts.Inc()
	case domain.StatusFailure:
		metrics.InferenceFailures.Inc()
	}
	metrics.InferenceLatency.Observe(resp.Latency.Seconds())

	p.events.Emit(bus.Event{
		Type:   bus.EventInferenceCompleted,
		Source: "pipeline",
		Payload: map[string]any{
			"id":      q.ID,
			"status":  string(resp.Status),
			"latency": resp.Latency.String(),
		},
	})
	return resp
}

// record persists the advisory off the caller's context so a slow disk or a
// shutting-down parent context cannot lose the row for a completed query.
func (p *Pipeline) record(adv domain.Advisory) {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := p.store.RecordAdvisory(ctx, adv); err != nil {
		p.logger.Error("history write failed", "id", adv.Query.ID, "err", err)
	}
}
