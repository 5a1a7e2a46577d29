package compose

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agriguard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testParams() Params {
	return Params{
		Model:       "llama-3.1-8b-instant",
		MaxTokens:   1024,
		Temperature: 0.3,
		Timeout:     1500 * time.Millisecond,
	}
}

func newTestComposer(t *testing.T) *Composer {
	t.Helper()
	c, err := New(testParams(), 4, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCompose_PestTemplate(t *testing.T) {
	c := newTestComposer(t)

	q := domain.Query{Text: "aphids on my tomato leaves", Language: "en"}
	cr := domain.CategoryResult{Category: domain.CategoryPest, Confidence: 0.66}

	req, err := c.Compose(q, cr)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !strings.Contains(req.System, "pest") {
		t.Errorf("system prompt should come from the pest template, got: %q", req.System)
	}
	if !strings.Contains(req.Prompt, "aphids on my tomato leaves") {
		t.Errorf("prompt missing query text: %q", req.Prompt)
	}
	if !strings.Contains(req.Prompt, `"en"`) {
		t.Errorf("prompt missing language instruction: %q", req.Prompt)
	}
	if req.Model != "llama-3.1-8b-instant" || req.Timeout != 1500*time.Millisecond {
		t.Errorf("model params not attached: %+v", req)
	}
}

func TestCompose_Idempotent(t *testing.T) {
	c := newTestComposer(t)

	q := domain.Query{Text: "hail storm tonight", Language: "hi", Urgency: 5}
	cr := domain.CategoryResult{Category: domain.CategoryWeather, Confidence: 0.8}

	first, err := c.Compose(q, cr)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := c.Compose(q, cr)
		if err != nil {
			t.Fatalf("Compose: %v", err)
		}
		if again != first {
			t.Fatalf("Compose not idempotent:\nfirst: %+v\nagain: %+v", first, again)
		}
	}
}

func TestCompose_UnknownCategoryIsConfigurationError(t *testing.T) {
	c := newTestComposer(t)

	_, err := c.Compose(domain.Query{Text: "x"}, domain.CategoryResult{Category: domain.Category("livestock")})
	if err == nil {
		t.Fatal("expected error for unknown category")
	}
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T: %v", err, err)
	}
}

func TestCompose_UrgentTightensParams(t *testing.T) {
	c := newTestComposer(t)

	calm, err := c.Compose(
		domain.Query{Text: "wheat price", Urgency: 1},
		domain.CategoryResult{Category: domain.CategoryMarket},
	)
	if err != nil {
		t.Fatal(err)
	}
	urgent, err := c.Compose(
		domain.Query{Text: "locusts destroyed half the field", Urgency: 5},
		domain.CategoryResult{Category: domain.CategoryPest},
	)
	if err != nil {
		t.Fatal(err)
	}

	if calm.MaxTokens != 1024 || calm.Temperature != 0.3 {
		t.Errorf("calm query should keep configured params, got %+v", calm)
	}
	if urgent.MaxTokens != urgentMaxTokens {
		t.Errorf("urgent MaxTokens = %d, want %d", urgent.MaxTokens, urgentMaxTokens)
	}
	if urgent.Temperature != urgentTemperature {
		t.Errorf("urgent Temperature = %f, want %f", urgent.Temperature, urgentTemperature)
	}
}

func TestCompose_NoLanguageNoInstruction(t *testing.T) {
	c := newTestComposer(t)

	req, err := c.Compose(domain.Query{Text: "hello"}, domain.CategoryResult{Category: domain.CategoryGeneral})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(req.Prompt, "ISO code") {
		t.Errorf("prompt should omit language instruction when language unknown: %q", req.Prompt)
	}
}

func TestLoadTemplates_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	raw := `
pest:
  system: "Custom pest persona for {{.Category}}."
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	overrides, err := LoadTemplates(path, testLogger())
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}

	c, err := New(testParams(), 4, overrides, testLogger())
	if err != nil {
		t.Fatalf("New with overrides: %v", err)
	}

	req, err := c.Compose(domain.Query{Text: "aphids"}, domain.CategoryResult{Category: domain.CategoryPest})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(req.System, "Custom pest persona for pest.") {
		t.Errorf("override not applied, system = %q", req.System)
	}
	// User template not overridden — falls back to the built-in.
	if !strings.Contains(req.Prompt, "aphids") {
		t.Errorf("built-in user template missing, prompt = %q", req.Prompt)
	}
}

func TestLoadTemplates_UnknownCategory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	if err := os.WriteFile(path, []byte("livestock:\n  system: moo\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadTemplates(path, testLogger())
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for unknown category, got %v", err)
	}
}

func TestLoadTemplates_MissingFileIsNotError(t *testing.T) {
	overrides, err := LoadTemplates("/nonexistent/templates.yaml", testLogger())
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if overrides != nil {
		t.Errorf("expected nil overrides, got %v", overrides)
	}
}

func TestNew_BadTemplateIsConfigurationError(t *testing.T) {
	overrides := map[domain.Category]Template{
		domain.CategoryPest: {System: "{{.Unclosed"},
	}
	_, err := New(testParams(), 4, overrides, testLogger())
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}
