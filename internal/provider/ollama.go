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

// Ollama implements domain.Provider against a local Ollama daemon's native
// /api/chat endpoint. Used as an offline fallback when the cloud provider is
// unreachable.
type Ollama struct {
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type OllamaConfig struct {
	APIBase string
	Model   string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.APIBase == "" {
		cfg.APIBase = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.1:8b"
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	return &Ollama{
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Models() []string {
	return []string{"llama3.1:8b", "llama3.2:3b", "qwen2.5:7b"}
}

func (o *Ollama) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.apiBase+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned %d", resp.StatusCode)
	}
	return nil
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []ccMessage    `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         ccMessage `json:"message"`
	Done            bool      `json:"done"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
}

// Complete mirrors the Groq client's status semantics: timeout and failure
// are in-band, the error return is for cancellation and malformed requests.
func (o *Ollama) Complete(ctx context.Context, req domain.InferenceRequest) (*domain.InferenceResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultInferenceTimeout
	}

	model := req.Model
	if model == "" {
		model = o.model
	}

	options := map[string]any{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}

	body := ollamaChatRequest{
		Model: model,
		Messages: []ccMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		Stream:  false,
		Options: options,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	buildReq := func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(callCtx, "POST", o.apiBase+"/api/chat", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	}

	start := time.Now()
	resp, err := doWithRetry(callCtx, o.client, buildReq, o.logger)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		if isTimeout(err) {
			detail := &domain.TimeoutError{Elapsed: elapsed, Limit: timeout}
			return &domain.InferenceResponse{
				Status:    domain.StatusTimeout,
				ErrDetail: detail.Error(),
				Latency:   elapsed,
			}, nil
		}
		detail := &domain.TransportError{Op: "ollama chat", Err: err}
		return &domain.InferenceResponse{
			Status:    domain.StatusFailure,
			ErrDetail: detail.Error(),
			Latency:   elapsed,
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.InferenceResponse{
			Status:    domain.StatusFailure,
			ErrDetail: fmt.Sprintf("ollama %d: %s", resp.StatusCode, string(respBody)),
			Latency:   elapsed,
		}, nil
	}

	var oc ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oc); err != nil {
		return &domain.InferenceResponse{
			Status:    domain.StatusFailure,
			ErrDetail: fmt.Sprintf("decode ollama response: %v", err),
			Latency:   elapsed,
		}, nil
	}

	return &domain.InferenceResponse{
		Status:  domain.StatusSuccess,
		Text:    oc.Message.Content,
		Latency: elapsed,
		Usage: domain.Usage{
			PromptTokens:     oc.PromptEvalCount,
			CompletionTokens: oc.EvalCount,
			TotalTokens:      oc.PromptEvalCount + oc.EvalCount,
		},
	}, nil
}
