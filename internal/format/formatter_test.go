package format

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"agriguard/internal/config"
	"agriguard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.FormatterConfig {
	return config.FormatterConfig{
		MaxDisplayLength:   80,
		SupportedLanguages: []string{"en", "hi"},
		DefaultLanguage:    "en",
		FallbackMessage:    "unable to get a response, try again",
	}
}

func newTestFormatter(t *testing.T, cfg config.FormatterConfig) *Formatter {
	t.Helper()
	f, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestFormat_Success(t *testing.T) {
	f := newTestFormatter(t, testConfig())

	resp := &domain.InferenceResponse{Status: domain.StatusSuccess, Text: "apply neem oil spray"}
	msg := f.Format(resp, domain.Query{Language: "en", Channel: "cli", ChatID: "direct"})

	if msg.Text != "apply neem oil spray" {
		t.Errorf("text = %q", msg.Text)
	}
	if msg.Language != "en" || msg.Channel != "cli" || msg.ChatID != "direct" {
		t.Errorf("routing fields wrong: %+v", msg)
	}
}

func TestFormat_TimeoutYieldsFixedFallback(t *testing.T) {
	f := newTestFormatter(t, testConfig())

	resp := &domain.InferenceResponse{Status: domain.StatusTimeout, ErrDetail: "inference timed out after 2s (limit 1.5s)"}
	msg := f.Format(resp, domain.Query{Language: "en"})

	if msg.Text != "unable to get a response, try again" {
		t.Errorf("text = %q, want the fixed fallback", msg.Text)
	}
	if strings.Contains(msg.Text, "timed out") {
		t.Error("raw error detail leaked to the user")
	}
}

func TestFormat_FailureNeverLeaksProviderError(t *testing.T) {
	f := newTestFormatter(t, testConfig())

	resp := &domain.InferenceResponse{Status: domain.StatusFailure, ErrDetail: "groq 401: invalid api key"}
	msg := f.Format(resp, domain.Query{})

	if msg.Text == "" {
		t.Fatal("fallback must never be empty")
	}
	if strings.Contains(msg.Text, "401") || strings.Contains(msg.Text, "api key") {
		t.Errorf("provider error leaked: %q", msg.Text)
	}
}

func TestFormat_EmptySuccessFallsBack(t *testing.T) {
	f := newTestFormatter(t, testConfig())

	resp := &domain.InferenceResponse{Status: domain.StatusSuccess, Text: "   "}
	msg := f.Format(resp, domain.Query{})
	if msg.Text != "unable to get a response, try again" {
		t.Errorf("blank success should fall back, got %q", msg.Text)
	}
}

func TestFormat_Truncation(t *testing.T) {
	f := newTestFormatter(t, testConfig())

	long := strings.Repeat("spray the affected rows early ", 20)
	msg := f.Format(&domain.InferenceResponse{Status: domain.StatusSuccess, Text: long}, domain.Query{})

	if got := utf8.RuneCountInString(msg.Text); got > 80 {
		t.Errorf("truncated length = %d runes, budget 80", got)
	}
	if !strings.HasSuffix(msg.Text, "…") {
		t.Errorf("truncated text should end with ellipsis: %q", msg.Text)
	}
	if strings.HasSuffix(strings.TrimSuffix(msg.Text, "…"), " ") {
		t.Errorf("trailing space before ellipsis: %q", msg.Text)
	}
}

func TestFormat_ShortTextNotTruncated(t *testing.T) {
	f := newTestFormatter(t, testConfig())
	msg := f.Format(&domain.InferenceResponse{Status: domain.StatusSuccess, Text: "short"}, domain.Query{})
	if msg.Text != "short" {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestFormat_DenyListRedacts(t *testing.T) {
	cfg := testConfig()
	cfg.DenyPatterns = []string{`\bendosulfan\b`}
	f := newTestFormatter(t, cfg)

	resp := &domain.InferenceResponse{
		Status: domain.StatusSuccess,
		Text:   "Use Endosulfan on the crop, or neem oil as a safer option.",
	}
	msg := f.Format(resp, domain.Query{})

	if strings.Contains(strings.ToLower(msg.Text), "endosulfan") {
		t.Errorf("banned substance not redacted: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "neem oil") {
		t.Errorf("safe advice should survive redaction: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "[removed]") {
		t.Errorf("redaction marker missing: %q", msg.Text)
	}
}

func TestNew_BadDenyPattern(t *testing.T) {
	cfg := testConfig()
	cfg.DenyPatterns = []string{"(unclosed"}
	_, err := New(cfg, testLogger())
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestResolveLanguage(t *testing.T) {
	f := newTestFormatter(t, testConfig())

	tests := []struct {
		in, want string
	}{
		{"en", "en"},
		{"HI", "hi"},
		{"fr", "en"}, // unsupported → default
		{"", "en"},
		{"  en  ", "en"},
	}
	for _, tt := range tests {
		if got := f.ResolveLanguage(tt.in); got != tt.want {
			t.Errorf("ResolveLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
