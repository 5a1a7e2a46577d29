// Package format shapes raw inference output into the user-facing message:
// language selection, truncation to the display budget, and a deny-list
// safety filter. It never touches the network and never surfaces an error to
// the user — failures and timeouts become the fixed fallback message.
package format

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"agriguard/internal/config"
	"agriguard/internal/domain"
)

const (
	defaultFallback = "Sorry, I could not get an answer right now. Please try again in a moment."
	redaction       = "[removed]"
	ellipsis        = "…"
)

type Formatter struct {
	maxLen      int
	supported   map[string]bool
	defaultLang string
	deny        []*regexp.Regexp
	fallback    string
	logger      *slog.Logger
}

// New compiles the deny-list and builds a Formatter. A bad pattern is a
// ConfigurationError: caught at startup, never during a query.
func New(cfg config.FormatterConfig, logger *slog.Logger) (*Formatter, error) {
	deny := make([]*regexp.Regexp, 0, len(cfg.DenyPatterns))
	for _, pattern := range cfg.DenyPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, &domain.ConfigurationError{
				Key:    "formatter.denyPatterns",
				Reason: err.Error(),
			}
		}
		deny = append(deny, re)
	}

	supported := make(map[string]bool, len(cfg.SupportedLanguages))
	for _, lang := range cfg.SupportedLanguages {
		supported[strings.ToLower(lang)] = true
	}

	fallback := cfg.FallbackMessage
	if fallback == "" {
		fallback = defaultFallback
	}

	maxLen := cfg.MaxDisplayLength
	if maxLen <= 0 {
		maxLen = 1600
	}

	return &Formatter{
		maxLen:      maxLen,
		supported:   supported,
		defaultLang: cfg.DefaultLanguage,
		deny:        deny,
		fallback:    fallback,
		logger:      logger,
	}, nil
}

// ResolveLanguage maps a requested language to a supported one, falling back
// to the configured default. Called before composition so the prompt and the
// outgoing message agree on the output language.
func (f *Formatter) ResolveLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang != "" && f.supported[lang] {
		return lang
	}
	return f.defaultLang
}

// Format turns an InferenceResponse into the outgoing message for one query.
// Success passes through filter and truncation; failure and timeout yield the
// deterministic fallback — never raw error text, never an empty string.
func (f *Formatter) Format(resp *domain.InferenceResponse, q domain.Query) domain.OutgoingMessage {
	msg := domain.OutgoingMessage{
		QueryID:  q.ID,
		Language: f.ResolveLanguage(q.Language),
		Channel:  q.Channel,
		ChatID:   q.ChatID,
		Urgency:  q.Urgency,
	}

	if resp == nil || resp.Status != domain.StatusSuccess {
		msg.Text = f.fallback
		return msg
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		// A blank success is as useless to the farmer as a failure.
		msg.Text = f.fallback
		return msg
	}

	text = f.filter(text)
	msg.Text = f.truncate(text)
	return msg
}

// filter redacts deny-list matches instead of dropping the whole response:
// one bad phrase should not cost the farmer the rest of the advice.
func (f *Formatter) filter(text string) string {
	for _, re := range f.deny {
		if re.MatchString(text) {
			f.logger.Warn("response matched deny pattern", "pattern", re.String())
			text = re.ReplaceAllString(text, redaction)
		}
	}
	return text
}

// truncate cuts at the last word boundary inside the display budget,
// appending an ellipsis. Counts runes, not bytes — advisory text is often
// non-ASCII.
func (f *Formatter) truncate(text string) string {
	if utf8.RuneCountInString(text) <= f.maxLen {
		return text
	}

	runes := []rune(text)
	cut := f.maxLen - utf8.RuneCountInString(ellipsis)
	head := string(runes[:cut])
	if idx := strings.LastIndexAny(head, " \n\t"); idx > cut/2 {
		head = head[:idx]
	}
	return strings.TrimRight(head, " \n\t") + ellipsis
}
