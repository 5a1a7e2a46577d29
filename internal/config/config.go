package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for AgriGuard. It is constructed once at
// process start, validated, and passed by reference to every component.
// Nothing mutates it after startup.
type Config struct {
	General    GeneralConfig             `json:"general"`
	Providers  map[string]ProviderConfig `json:"providers"`
	Classifier ClassifierConfig          `json:"classifier"`
	Formatter  FormatterConfig           `json:"formatter"`
	Channels   ChannelsConfig            `json:"channels"`
	Alerts     AlertsConfig              `json:"alerts"`
	History    HistoryConfig             `json:"history"`
	Metrics    MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel             string   `json:"logLevel"`
	LogFile              string   `json:"logFile,omitempty"`
	DefaultProvider      string   `json:"defaultProvider"`
	FailoverChain        []string `json:"failoverChain,omitempty"` // provider fallback order
	MaxConcurrentQueries int      `json:"maxConcurrentQueries"`
	TemplatesPath        string   `json:"templatesPath,omitempty"` // optional YAML prompt template overrides
}

// ProviderConfig configures one inference backend. Unknown provider names
// with an apiBase and apiKey are treated as OpenAI-compatible.
type ProviderConfig struct {
	Enabled         bool    `json:"enabled"`
	APIBase         string  `json:"apiBase,omitempty"`
	APIKey          string  `json:"apiKey,omitempty"`
	DefaultModel    string  `json:"defaultModel,omitempty"`
	MaxTokens       int     `json:"maxTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	TimeoutMs       int     `json:"timeoutMs,omitempty"` // hard upper bound on inference wait
	RateLimitPerMin int     `json:"rateLimitPerMinute,omitempty"`
}

type ClassifierConfig struct {
	ConfidenceThreshold float64             `json:"confidenceThreshold"` // below this → general
	UrgencyThreshold    int                 `json:"urgencyThreshold"`    // at or above → alert-eligible
	ExtraKeywords       map[string][]string `json:"extraKeywords,omitempty"`
}

type FormatterConfig struct {
	MaxDisplayLength   int      `json:"maxDisplayLength"`
	SupportedLanguages []string `json:"supportedLanguages"`
	DefaultLanguage    string   `json:"defaultLanguage"`
	DenyPatterns       []string `json:"denyPatterns,omitempty"` // regexes redacted from responses
	FallbackMessage    string   `json:"fallbackMessage,omitempty"`
}

type ChannelsConfig struct {
	CLI      CLIConfig      `json:"cli"`
	Telegram TelegramConfig `json:"telegram"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty"`
	Webhook  WebhookConfig  `json:"webhook"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom,omitempty"` // user IDs, empty = allow all
	ParseMode string   `json:"parseMode"`
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	WebhookPath   string `json:"webhookPath,omitempty"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"` // optional: restrict to one guild
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	APIKey  string `json:"apiKey,omitempty"`
}

// AlertsConfig names the channel and recipient that receive urgent advisories
// (pest or weather at or above the urgency threshold) in addition to the
// normal reply.
type AlertsConfig struct {
	Enabled   bool   `json:"enabled"`
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
}

type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.agriguard).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agriguard"
	}
	return filepath.Join(home, ".agriguard")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.TemplatesPath = ExpandPath(cfg.General.TemplatesPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values. Violations here are fatal
// at startup; nothing downstream re-validates.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentQueries < 1 || cfg.General.MaxConcurrentQueries > 100 {
		errs = append(errs, "general.maxConcurrentQueries must be between 1 and 100")
	}

	if cfg.Classifier.ConfidenceThreshold < 0 || cfg.Classifier.ConfidenceThreshold > 1 {
		errs = append(errs, "classifier.confidenceThreshold must be in [0, 1]")
	}
	if cfg.Classifier.UrgencyThreshold < 0 || cfg.Classifier.UrgencyThreshold > 5 {
		errs = append(errs, "classifier.urgencyThreshold must be between 0 and 5")
	}

	if cfg.Formatter.MaxDisplayLength < 1 {
		errs = append(errs, "formatter.maxDisplayLength must be >= 1")
	}
	for _, pattern := range cfg.Formatter.DenyPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Sprintf("formatter.denyPatterns: invalid regexp %q: %v", pattern, err))
		}
	}

	if cfg.Channels.Webhook.Port < 0 || cfg.Channels.Webhook.Port > 65535 {
		errs = append(errs, "channels.webhook.port must be between 0 and 65535")
	}

	if cfg.History.Enabled && cfg.History.RetentionDays < 1 {
		errs = append(errs, "history.retentionDays must be >= 1")
	}

	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}

	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		// Ollama has a built-in local default base.
		if pc.APIBase == "" && name != "ollama" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required", name))
		}
		if pc.TimeoutMs < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s: timeoutMs must be >= 0", name))
		}
		if pc.Temperature < 0 || pc.Temperature > 2 {
			errs = append(errs, fmt.Sprintf("providers.%s: temperature must be in [0, 2]", name))
		}
	}

	if cfg.Alerts.Enabled {
		if cfg.Alerts.Channel == "" {
			errs = append(errs, "alerts.channel is required when alerts are enabled")
		}
		if cfg.Alerts.Recipient == "" {
			errs = append(errs, "alerts.recipient is required when alerts are enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
