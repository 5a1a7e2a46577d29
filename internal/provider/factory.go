package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"agriguard/internal/config"
	"agriguard/internal/domain"
)

// Constructor creates a provider from its config entry.
type Constructor func(pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider

// Factory creates and caches providers from config. All providers share one
// pooled HTTP client, sized by general.maxConcurrentQueries.
type Factory struct {
	cfg          *config.Config
	client       *http.Client
	logger       *slog.Logger
	constructors map[string]Constructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		client:       SharedHTTPClient(cfg.General.MaxConcurrentQueries),
		logger:       logger,
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["groq"] = func(pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider {
		return NewGroq(GroqConfig{
			Name:    "groq",
			APIKey:  pc.APIKey,
			APIBase: pc.APIBase,
			Model:   pc.DefaultModel,
			Client:  client,
			Logger:  logger,
		})
	}
	f.constructors["ollama"] = func(pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider {
		return NewOllama(OllamaConfig{
			APIBase: pc.APIBase,
			Model:   pc.DefaultModel,
			Client:  client,
			Logger:  logger,
		})
	}
}

// Get returns the provider with the given name, or the default when name is
// empty. Instances are cached; double-check locking avoids TOCTOU races.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	var p domain.Provider
	if ctor, found := f.constructors[name]; found {
		p = ctor(pc, f.client, f.logger)
	} else if pc.APIBase != "" && pc.APIKey != "" {
		// Unknown providers with credentials are treated as OpenAI-compatible.
		p = NewGroq(GroqConfig{
			Name:    name,
			APIKey:  pc.APIKey,
			APIBase: pc.APIBase,
			Model:   pc.DefaultModel,
			Client:  f.client,
			Logger:  f.logger,
		})
	} else {
		return nil, fmt.Errorf("provider %s: no constructor registered and no API base/key configured", name)
	}

	f.cache[name] = p
	return p, nil
}

// Active returns the provider the pipeline should use: the failover chain
// when configured, otherwise the default provider.
func (f *Factory) Active() (domain.Provider, error) {
	if len(f.cfg.General.FailoverChain) > 0 {
		chain := make([]domain.Provider, 0, len(f.cfg.General.FailoverChain))
		for _, name := range f.cfg.General.FailoverChain {
			p, err := f.Get(name)
			if err != nil {
				return nil, fmt.Errorf("failover chain: %w", err)
			}
			chain = append(chain, p)
		}
		return NewFailover(chain, f.logger), nil
	}
	return f.Get("")
}

// Params returns the composer parameters for the named provider (or the
// default when empty).
func (f *Factory) Params(name string) (model string, maxTokens int, temperature float64, timeout time.Duration, err error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}
	pc, ok := f.cfg.Providers[name]
	if !ok {
		return "", 0, 0, 0, &domain.ConfigurationError{
			Key:    "providers." + name,
			Reason: "provider not configured",
		}
	}
	return pc.DefaultModel, pc.MaxTokens, pc.Temperature, time.Duration(pc.TimeoutMs) * time.Millisecond, nil
}

// HealthyProvider returns the first configured provider that passes a health
// check, or nil when none do.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	for name := range f.cfg.Providers {
		p, err := f.Get(name)
		if err != nil || p == nil {
			continue
		}
		if p.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}
