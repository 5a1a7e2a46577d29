package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"agriguard/internal/domain"
)

// Failover tries multiple providers in order, moving to the next only on
// status=failure. Timeouts are not failed over: the per-query deadline has
// already been spent, and a second provider call under the same pressure
// would just burn the farmer's wait twice.
type Failover struct {
	providers []domain.Provider
	logger    *slog.Logger
}

// NewFailover creates a failover chain from the given providers.
// At least one provider is required.
func NewFailover(providers []domain.Provider, logger *slog.Logger) *Failover {
	return &Failover{providers: providers, logger: logger}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (f *Failover) Models() []string {
	var all []string
	seen := make(map[string]bool)
	for _, p := range f.providers {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	return all
}

func (f *Failover) Healthy(ctx context.Context) error {
	for _, p := range f.providers {
		if err := p.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy provider in failover chain")
}

// Complete returns the first non-failure response. The last failure is
// surfaced as-is when every provider in the chain fails.
func (f *Failover) Complete(ctx context.Context, req domain.InferenceRequest) (*domain.InferenceResponse, error) {
	var last *domain.InferenceResponse
	for i, p := range f.providers {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err // cancellation or programmer error: not recoverable here
		}
		if resp.Status != domain.StatusFailure {
			if i > 0 {
				f.logger.Info("failover: used fallback provider",
					"provider", p.Name(),
					"attempt", i+1,
				)
			}
			return resp, nil
		}
		last = resp
		f.logger.Warn("failover: provider failed, trying next",
			"provider", p.Name(),
			"attempt", i+1,
			"detail", resp.ErrDetail,
		)
	}
	if last == nil {
		return nil, fmt.Errorf("failover chain is empty")
	}
	return last, nil
}
