package provider

import (
	"context"
	"errors"
	"testing"

	"agriguard/internal/domain"
)

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	name    string
	healthy bool
	resp    *domain.InferenceResponse
	err     error
	calls   int
}

func (m *mockProvider) Name() string     { return m.name }
func (m *mockProvider) Models() []string { return []string{"test-model"} }

func (m *mockProvider) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Complete(ctx context.Context, req domain.InferenceRequest) (*domain.InferenceResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func success(text string) *domain.InferenceResponse {
	return &domain.InferenceResponse{Status: domain.StatusSuccess, Text: text}
}

func failure(detail string) *domain.InferenceResponse {
	return &domain.InferenceResponse{Status: domain.StatusFailure, ErrDetail: detail}
}

func TestFailover_UsesFirstProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", resp: success("from-primary")}
	p2 := &mockProvider{name: "secondary", resp: success("from-secondary")}
	f := NewFailover([]domain.Provider{p1, p2}, testLogger())

	resp, err := f.Complete(context.Background(), domain.InferenceRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "from-primary" {
		t.Fatalf("expected 'from-primary', got %q", resp.Text)
	}
	if p2.calls != 0 {
		t.Error("secondary should not be called when primary succeeds")
	}
}

func TestFailover_FallsBackOnFailureStatus(t *testing.T) {
	p1 := &mockProvider{name: "primary", resp: failure("api down")}
	p2 := &mockProvider{name: "secondary", resp: success("from-secondary")}
	f := NewFailover([]domain.Provider{p1, p2}, testLogger())

	resp, err := f.Complete(context.Background(), domain.InferenceRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "from-secondary" {
		t.Fatalf("expected 'from-secondary', got %q", resp.Text)
	}
}

func TestFailover_DoesNotFailOverOnTimeout(t *testing.T) {
	p1 := &mockProvider{name: "primary", resp: &domain.InferenceResponse{Status: domain.StatusTimeout}}
	p2 := &mockProvider{name: "secondary", resp: success("never")}
	f := NewFailover([]domain.Provider{p1, p2}, testLogger())

	resp, err := f.Complete(context.Background(), domain.InferenceRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != domain.StatusTimeout {
		t.Fatalf("status = %s, want timeout passed through", resp.Status)
	}
	if p2.calls != 0 {
		t.Error("timeout must not trigger failover")
	}
}

func TestFailover_AllProvidersFail(t *testing.T) {
	p1 := &mockProvider{name: "p1", resp: failure("fail 1")}
	p2 := &mockProvider{name: "p2", resp: failure("fail 2")}
	f := NewFailover([]domain.Provider{p1, p2}, testLogger())

	resp, err := f.Complete(context.Background(), domain.InferenceRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != domain.StatusFailure {
		t.Fatalf("status = %s, want failure", resp.Status)
	}
	if resp.ErrDetail != "fail 2" {
		t.Errorf("should surface the last failure, got %q", resp.ErrDetail)
	}
}

func TestFailover_PropagatesCancellation(t *testing.T) {
	p1 := &mockProvider{name: "p1", err: context.Canceled}
	p2 := &mockProvider{name: "p2", resp: success("never")}
	f := NewFailover([]domain.Provider{p1, p2}, testLogger())

	_, err := f.Complete(context.Background(), domain.InferenceRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p2.calls != 0 {
		t.Error("cancellation must not trigger failover")
	}
}

func TestFailover_HealthyWhenAnyProviderHealthy(t *testing.T) {
	p1 := &mockProvider{name: "p1", healthy: false}
	p2 := &mockProvider{name: "p2", healthy: true}
	f := NewFailover([]domain.Provider{p1, p2}, testLogger())

	if err := f.Healthy(context.Background()); err != nil {
		t.Errorf("Healthy: %v", err)
	}

	none := NewFailover([]domain.Provider{p1}, testLogger())
	if err := none.Healthy(context.Background()); err == nil {
		t.Error("expected unhealthy chain to report an error")
	}
}

func TestFailover_Name(t *testing.T) {
	f := NewFailover([]domain.Provider{
		&mockProvider{name: "groq"},
		&mockProvider{name: "ollama"},
	}, testLogger())
	if f.Name() != "failover(groq→ollama)" {
		t.Errorf("Name() = %q", f.Name())
	}
}
