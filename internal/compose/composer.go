// Package compose builds provider-ready inference requests from classified
// queries: a prompt template keyed by category plus model parameters from
// configuration. Composition is pure — the same Query and CategoryResult
// always produce an identical InferenceRequest.
package compose

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"
	"time"

	"agriguard/internal/domain"

	"gopkg.in/yaml.v3"
)

// Urgent queries get tighter model parameters, trading breadth for speed.
const (
	urgentMaxTokens   = 800
	urgentTemperature = 0.1
)

// Params are the model parameters attached to every composed request,
// taken from the active provider's configuration.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

type categoryTemplate struct {
	system *template.Template
	user   *template.Template
}

// Composer selects a template by category and renders the inference request.
type Composer struct {
	templates        map[domain.Category]*categoryTemplate
	params           Params
	urgencyThreshold int
	logger           *slog.Logger
}

// New parses the built-in templates, merged with overrides, into a Composer.
// A malformed template is a ConfigurationError: fatal at startup, never
// discovered mid-query.
func New(params Params, urgencyThreshold int, overrides map[domain.Category]Template, logger *slog.Logger) (*Composer, error) {
	merged := make(map[domain.Category]Template, len(defaultTemplates))
	for cat, tpl := range defaultTemplates {
		merged[cat] = tpl
	}
	for cat, tpl := range overrides {
		base := merged[cat]
		if strings.TrimSpace(tpl.System) != "" {
			base.System = tpl.System
		}
		if strings.TrimSpace(tpl.User) != "" {
			base.User = tpl.User
		}
		merged[cat] = base
	}

	parsed := make(map[domain.Category]*categoryTemplate, len(merged))
	for cat, tpl := range merged {
		sys, err := template.New(string(cat) + ".system").Parse(tpl.System)
		if err != nil {
			return nil, &domain.ConfigurationError{
				Key:    "templates." + string(cat) + ".system",
				Reason: err.Error(),
			}
		}
		user, err := template.New(string(cat) + ".user").Parse(tpl.User)
		if err != nil {
			return nil, &domain.ConfigurationError{
				Key:    "templates." + string(cat) + ".user",
				Reason: err.Error(),
			}
		}
		parsed[cat] = &categoryTemplate{system: sys, user: user}
	}

	return &Composer{
		templates:        parsed,
		params:           params,
		urgencyThreshold: urgencyThreshold,
		logger:           logger,
	}, nil
}

// templateData is what the prompt templates can reference.
type templateData struct {
	Text     string
	Language string
	Category string
	Urgency  int
}

// Compose builds the InferenceRequest for a classified query. Returns a
// ConfigurationError when no template exists for the category — unreachable
// given the closed set, but handled rather than assumed.
func (c *Composer) Compose(q domain.Query, cr domain.CategoryResult) (domain.InferenceRequest, error) {
	tpl, ok := c.templates[cr.Category]
	if !ok {
		return domain.InferenceRequest{}, &domain.ConfigurationError{
			Key:    "templates." + string(cr.Category),
			Reason: "no prompt template registered for category",
		}
	}

	data := templateData{
		Text:     q.Text,
		Language: q.Language,
		Category: string(cr.Category),
		Urgency:  q.Urgency,
	}

	var system, user strings.Builder
	if err := tpl.system.Execute(&system, data); err != nil {
		return domain.InferenceRequest{}, fmt.Errorf("render system template for %s: %w", cr.Category, err)
	}
	if err := tpl.user.Execute(&user, data); err != nil {
		return domain.InferenceRequest{}, fmt.Errorf("render user template for %s: %w", cr.Category, err)
	}

	req := domain.InferenceRequest{
		System:      system.String(),
		Prompt:      user.String(),
		Model:       c.params.Model,
		MaxTokens:   c.params.MaxTokens,
		Temperature: c.params.Temperature,
		Timeout:     c.params.Timeout,
	}

	if q.Urgency >= c.urgencyThreshold {
		if req.MaxTokens > urgentMaxTokens {
			req.MaxTokens = urgentMaxTokens
		}
		req.Temperature = urgentTemperature
	}

	return req, nil
}

// LoadTemplates reads category template overrides from a YAML file keyed by
// category name. A missing path is not an error; an unknown category is.
func LoadTemplates(path string, logger *slog.Logger) (map[domain.Category]Template, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug("templates file does not exist, using built-ins", "path", path)
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates file: %w", err)
	}

	var raw map[string]Template
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &domain.ConfigurationError{Key: "templatesPath", Reason: err.Error()}
	}

	overrides := make(map[domain.Category]Template, len(raw))
	for name, tpl := range raw {
		cat := domain.Category(name)
		if !cat.Valid() {
			return nil, &domain.ConfigurationError{
				Key:    "templates." + name,
				Reason: "unknown category",
			}
		}
		overrides[cat] = tpl
		logger.Info("loaded template override", "category", name, "path", path)
	}
	return overrides, nil
}
