package config

// Defaults returns the baseline configuration: Groq as the default provider,
// CLI as the only enabled channel, history on, alerts off until an operator
// names a recipient.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:             "info",
			DefaultProvider:      "groq",
			MaxConcurrentQueries: 8,
		},
		Providers: map[string]ProviderConfig{
			"groq": {
				Enabled:      true,
				APIBase:      "https://api.groq.com/openai/v1",
				APIKey:       "${GROQ_API_KEY}",
				DefaultModel: "llama-3.1-8b-instant",
				MaxTokens:    1024,
				Temperature:  0.3,
				TimeoutMs:    10000,
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
				MaxTokens:    1024,
				Temperature:  0.3,
				TimeoutMs:    30000,
			},
		},
		Classifier: ClassifierConfig{
			ConfidenceThreshold: 0.5,
			UrgencyThreshold:    4,
		},
		Formatter: FormatterConfig{
			MaxDisplayLength:   1600,
			SupportedLanguages: []string{"en", "hi", "pa", "ta", "te"},
			DefaultLanguage:    "en",
			FallbackMessage:    "Sorry, I could not get an answer right now. Please try again in a moment.",
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{
				Enabled: true,
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			WhatsApp: WhatsAppConfig{
				Enabled:     false,
				WebhookPath: "/webhook/whatsapp",
			},
			Discord: DiscordConfig{
				Enabled: false,
			},
			Slack: SlackConfig{
				Enabled: false,
			},
			Webhook: WebhookConfig{
				Enabled: false,
				Host:    "127.0.0.1",
				Port:    8080,
			},
		},
		Alerts: AlertsConfig{
			Enabled: false,
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        "~/.agriguard/history.db",
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
