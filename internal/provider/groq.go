package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"agriguard/internal/domain"
)

const defaultInferenceTimeout = 30 * time.Second

// Groq implements domain.Provider against Groq's OpenAI-compatible
// chat-completions API. Any OpenAI-compatible endpoint works by pointing
// apiBase elsewhere.
type Groq struct {
	name    string
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type GroqConfig struct {
	Name    string // provider name from config, defaults to "groq"
	APIKey  string
	APIBase string
	Model   string
	Client  *http.Client // shared pooled client
	Logger  *slog.Logger
}

func NewGroq(cfg GroqConfig) *Groq {
	if cfg.Name == "" {
		cfg.Name = "groq"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.groq.com/openai/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "llama-3.1-8b-instant"
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	return &Groq{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

func (g *Groq) Name() string { return g.name }

func (g *Groq) Models() []string {
	return []string{"llama-3.1-8b-instant", "llama-3.3-70b-versatile", "mixtral-8x7b-32768"}
}

func (g *Groq) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", g.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s not reachable: %w", g.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: invalid API key", g.name)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", g.name, resp.StatusCode)
	}
	return nil
}

type ccRequest struct {
	Model       string      `json:"model"`
	Messages    []ccMessage `json:"messages"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
	Stream      bool        `json:"stream"`
}

type ccMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ccResponse struct {
	Choices []ccChoice   `json:"choices"`
	Usage   domain.Usage `json:"usage"`
}

type ccChoice struct {
	Message      ccMessage `json:"message"`
	FinishReason string    `json:"finish_reason"`
}

// Complete sends one chat-completion request under the request's hard
// deadline. The outcome always lands in InferenceResponse.Status: timeout
// (deadline hit, never retried), failure (4xx, persistent transport/5xx
// faults), or success with measured latency. The error return fires only for
// a cancelled caller or an unbuildable request.
func (g *Groq) Complete(ctx context.Context, req domain.InferenceRequest) (*domain.InferenceResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultInferenceTimeout
	}

	model := req.Model
	if model == "" {
		model = g.model
	}

	body := ccRequest{
		Model: model,
		Messages: []ccMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens: req.MaxTokens,
		Stream:    false,
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	buildReq := func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(callCtx, "POST", g.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
		return httpReq, nil
	}

	start := time.Now()
	resp, err := doWithRetry(callCtx, g.client, buildReq, g.logger)
	elapsed := time.Since(start)

	if err != nil {
		// Caller abandoned the query: abort without fabricating a status.
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		if isTimeout(err) {
			detail := &domain.TimeoutError{Elapsed: elapsed, Limit: timeout}
			g.logger.Warn("inference timed out", "provider", g.name, "elapsed", elapsed, "limit", timeout)
			return &domain.InferenceResponse{
				Status:    domain.StatusTimeout,
				ErrDetail: detail.Error(),
				Latency:   elapsed,
			}, nil
		}
		detail := &domain.TransportError{Op: "chat completion", Err: err}
		g.logger.Warn("inference transport failure", "provider", g.name, "err", err)
		return &domain.InferenceResponse{
			Status:    domain.StatusFailure,
			ErrDetail: detail.Error(),
			Latency:   elapsed,
		}, nil
	}
	defer resp.Body.Close()

	// 4xx: client error — auth failure or bad request. Fatal, not retried.
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.InferenceResponse{
			Status:    domain.StatusFailure,
			ErrDetail: fmt.Sprintf("%s %d: %s", g.name, resp.StatusCode, string(respBody)),
			Latency:   elapsed,
		}, nil
	}

	var cc ccResponse
	if err := json.NewDecoder(resp.Body).Decode(&cc); err != nil {
		return &domain.InferenceResponse{
			Status:    domain.StatusFailure,
			ErrDetail: fmt.Sprintf("decode %s response: %v", g.name, err),
			Latency:   elapsed,
		}, nil
	}

	if len(cc.Choices) == 0 {
		return &domain.InferenceResponse{
			Status:    domain.StatusFailure,
			ErrDetail: g.name + " returned no choices",
			Latency:   elapsed,
		}, nil
	}

	return &domain.InferenceResponse{
		Status:  domain.StatusSuccess,
		Text:    cc.Choices[0].Message.Content,
		Latency: elapsed,
		Usage:   cc.Usage,
	}, nil
}
