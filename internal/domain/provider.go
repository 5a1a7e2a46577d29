package domain

import (
	"context"
	"time"
)

// Status classifies the outcome of one inference call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
)

// InferenceRequest is the provider-agnostic payload built by the composer.
// It is owned by the inference client for the duration of one outbound call.
type InferenceRequest struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration // hard deadline for the provider call
}

// Usage reports token consumption for one inference call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// InferenceResponse is produced exactly once per InferenceRequest. Outcome is
// carried in Status rather than a Go error so every call resolves to a value
// the formatter can shape: success carries Text, timeout and failure carry
// ErrDetail. Latency is measured by the client in all three cases.
type InferenceResponse struct {
	Status    Status
	Text      string
	ErrDetail string
	Latency   time.Duration
	Usage     Usage
}

// Provider is the interface all inference backends implement. Complete must
// honor req.Timeout and the caller's context; a cancelled context aborts the
// outstanding HTTP call. The error return is reserved for programmer errors
// (bad request construction) — provider and transport failures come back as
// an InferenceResponse with Status set.
type Provider interface {
	Complete(ctx context.Context, req InferenceRequest) (*InferenceResponse, error)
	Name() string
	Models() []string
	Healthy(ctx context.Context) error
}
