package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"agriguard/internal/domain"
	"agriguard/internal/metrics"
)

// Adviser processes queries synchronously. The pipeline implements it; the
// webhook channel uses it to answer HTTP requests in the request/response
// cycle instead of going through the inbound bus.
type Adviser interface {
	Process(ctx context.Context, msg domain.InboundMessage) domain.Advisory
	ProcessBatch(ctx context.Context, msgs []domain.InboundMessage) ([]domain.Advisory, int)
}

// Webhook exposes the advisory service over HTTP: POST /v1/advise for single
// queries, POST /v1/advise/batch for bulk intake, plus /healthz and /metrics.
type Webhook struct {
	host    string
	port    int
	apiKey  string
	adviser Adviser
	logger  *slog.Logger
	server  *http.Server
	mux     *http.ServeMux

	mu      sync.Mutex
	pending map[string]chan string // request ID -> reply slot
}

type WebhookOptions struct {
	Host    string
	Port    int
	APIKey  string
	Adviser Adviser
	Logger  *slog.Logger
	Metrics bool
}

// AdviseRequest is the JSON body for POST /v1/advise.
type AdviseRequest struct {
	Text      string `json:"text"`
	Language  string `json:"language,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// AdviseResponse is the JSON reply for a processed query.
type AdviseResponse struct {
	ID         string  `json:"id"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Urgency    int     `json:"urgency"`
	Urgent     bool    `json:"urgent"`
	Status     string  `json:"status"`
	State      string  `json:"state"`
	Message    string  `json:"message"`
	LatencyMs  int64   `json:"latency_ms"`
}

// BatchRequest is the JSON body for POST /v1/advise/batch.
type BatchRequest struct {
	Queries   []AdviseRequest `json:"queries"`
	SessionID string          `json:"session_id,omitempty"`
}

// BatchResponse carries one reply per query plus the index of the most
// urgent one.
type BatchResponse struct {
	Results []AdviseResponse `json:"results"`
	Primary int              `json:"primary"`
}

func NewWebhook(opts WebhookOptions) *Webhook {
	if opts.Port == 0 {
		opts.Port = 8140
	}
	w := &Webhook{
		host:    opts.Host,
		port:    opts.Port,
		apiKey:  opts.APIKey,
		adviser: opts.Adviser,
		logger:  opts.Logger,
		mux:     http.NewServeMux(),
		pending: make(map[string]chan string),
	}

	w.mux.HandleFunc("POST /v1/advise", w.auth(w.handleAdvise))
	w.mux.HandleFunc("POST /v1/advise/batch", w.auth(w.handleBatch))
	w.mux.HandleFunc("GET /healthz", w.handleHealth)
	if opts.Metrics {
		w.mux.Handle("GET /metrics", metrics.Collector.Handler())
	}
	return w
}

func (w *Webhook) Name() string { return "webhook" }

// Mount attaches an extra handler (e.g. the WhatsApp webhook) to the shared
// HTTP server. Must be called before Start.
func (w *Webhook) Mount(pattern string, handler http.Handler) {
	w.mux.Handle(pattern, handler)
}

// Start runs the HTTP server until the context is cancelled.
func (w *Webhook) Start(ctx context.Context, bus domain.MessageBus) error {
	w.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", w.host, w.port),
		Handler:           w.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", w.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) Stop() error { return nil }

// Send routes the dispatched advisory back to the HTTP request waiting on it.
// Each in-flight request registers its query's chat ID in the pending map.
func (w *Webhook) Send(ctx context.Context, chatID string, content string) error {
	w.mu.Lock()
	slot, ok := w.pending[chatID]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending request for %q", chatID)
	}
	select {
	case slot <- content:
		return nil
	default:
		return fmt.Errorf("reply slot for %q already filled", chatID)
	}
}

// ServeHTTP lets tests exercise the handlers without a listening socket.
func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	w.mux.ServeHTTP(rw, r)
}

func (w *Webhook) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if w.apiKey != "" && r.Header.Get("X-API-Key") != w.apiKey {
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(rw, r)
	}
}

func (w *Webhook) handleAdvise(rw http.ResponseWriter, r *http.Request) {
	var req AdviseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(rw, "text is required", http.StatusBadRequest)
		return
	}

	adv := w.process(r.Context(), req)

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(toResponse(adv))
}

func (w *Webhook) handleBatch(rw http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.Queries) == 0 {
		http.Error(rw, "queries is required", http.StatusBadRequest)
		return
	}

	msgs := make([]domain.InboundMessage, len(req.Queries))
	ids := make([]string, len(req.Queries))
	for i, q := range req.Queries {
		if q.SessionID == "" {
			q.SessionID = req.SessionID
		}
		msgs[i], ids[i] = w.register(q)
	}
	defer func() {
		for _, id := range ids {
			w.release(id)
		}
	}()

	advisories, primary := w.adviser.ProcessBatch(r.Context(), msgs)

	resp := BatchResponse{Primary: primary, Results: make([]AdviseResponse, len(advisories))}
	for i, adv := range advisories {
		resp.Results[i] = toResponse(adv)
	}

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(resp)
}

func (w *Webhook) handleHealth(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]any{
		"status": "ok",
		"uptime": metrics.Collector.Uptime().String(),
	})
}

// process runs one query through the adviser with a reply slot registered so
// the dispatcher's Send lands somewhere.
func (w *Webhook) process(ctx context.Context, req AdviseRequest) domain.Advisory {
	msg, id := w.register(req)
	defer w.release(id)
	return w.adviser.Process(ctx, msg)
}

func (w *Webhook) register(req AdviseRequest) (domain.InboundMessage, string) {
	id := "req-" + uuid.NewString()
	w.mu.Lock()
	w.pending[id] = make(chan string, 1)
	w.mu.Unlock()

	sender := req.SessionID
	if sender == "" {
		sender = "webhook"
	}
	return domain.InboundMessage{
		Channel:   "webhook",
		ChatID:    id,
		SenderID:  sender,
		Content:   req.Text,
		Language:  req.Language,
		Timestamp: time.Now(),
	}, id
}

func (w *Webhook) release(id string) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

func toResponse(adv domain.Advisory) AdviseResponse {
	return AdviseResponse{
		ID:         adv.Query.ID,
		Category:   string(adv.Category.Category),
		Confidence: adv.Category.Confidence,
		Urgency:    adv.Query.Urgency,
		Urgent:     adv.Message.Urgent,
		Status:     string(adv.Status),
		State:      string(adv.State),
		Message:    adv.Message.Text,
		LatencyMs:  adv.Latency.Milliseconds(),
	}
}
