package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"agriguard/internal/bus"
	"agriguard/internal/channel"
	"agriguard/internal/classify"
	"agriguard/internal/compose"
	"agriguard/internal/config"
	"agriguard/internal/dispatch"
	"agriguard/internal/domain"
	"agriguard/internal/format"
	"agriguard/internal/history"
	"agriguard/internal/pipeline"
	"agriguard/internal/provider"
)

const retentionSweepInterval = 24 * time.Hour

// app bundles the wired advisory service components shared by serve, chat
// and ask.
type app struct {
	pipeline   *pipeline.Pipeline
	dispatcher *dispatch.Dispatcher
	events     *bus.EventBus
	store      *history.Store // nil when history is disabled
	cfg        *config.Config
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// buildApp wires classifier, composer, provider chain, formatter, dispatcher
// and history into a pipeline according to the config.
func buildApp(cfg *config.Config) (*app, error) {
	classifier := classify.New(cfg.Classifier, logger)

	factory := provider.NewFactory(cfg, logger)
	prov, err := factory.Active()
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	model, maxTokens, temperature, timeout, err := factory.Params(cfg.General.DefaultProvider)
	if err != nil {
		return nil, fmt.Errorf("provider params: %w", err)
	}

	overrides, err := compose.LoadTemplates(cfg.General.TemplatesPath, logger)
	if err != nil {
		return nil, err
	}
	composer, err := compose.New(compose.Params{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Timeout:     timeout,
	}, cfg.Classifier.UrgencyThreshold, overrides, logger)
	if err != nil {
		return nil, err
	}

	formatter, err := format.New(cfg.Formatter, logger)
	if err != nil {
		return nil, err
	}

	events := bus.NewEventBus(logger)
	dispatcher := dispatch.New(cfg.Alerts, events, logger)

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.NewStore(config.ExpandPath(cfg.History.DBPath), logger)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		registerAlertRecorder(events, store)
	}

	var limiter *pipeline.RateLimiter
	if pc, ok := cfg.Providers[cfg.General.DefaultProvider]; ok && pc.RateLimitPerMin > 0 {
		limiter = pipeline.NewRateLimiter(cfg.General.MaxConcurrentQueries, float64(pc.RateLimitPerMin))
	}

	p := pipeline.New(pipeline.Options{
		Classifier:       classifier,
		Composer:         composer,
		Provider:         prov,
		Formatter:        formatter,
		Dispatcher:       dispatcher,
		Store:            store,
		Limiter:          limiter,
		Events:           events,
		Logger:           logger,
		UrgencyThreshold: cfg.Classifier.UrgencyThreshold,
		MaxConcurrent:    cfg.General.MaxConcurrentQueries,
	})

	return &app{
		pipeline:   p,
		dispatcher: dispatcher,
		events:     events,
		store:      store,
		cfg:        cfg,
	}, nil
}

// registerAlertRecorder persists every alert-channel delivery to history.
func registerAlertRecorder(events *bus.EventBus, store *history.Store) {
	events.On(bus.EventAlertSent, func(e bus.Event) {
		id, _ := e.Payload["id"].(string)
		ch, _ := e.Payload["channel"].(string)
		recipient, _ := e.Payload["recipient"].(string)
		urgency, _ := e.Payload["urgency"].(int)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.RecordAlert(ctx, id, ch, recipient, urgency); err != nil {
			logger.Error("alert history write failed", "id", id, "err", err)
		}
	})
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the advisory service with all enabled channels",
		Long:  "Starts every enabled channel (CLI excluded), the HTTP API, and the query pipeline. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	messageBus := bus.New(100, logger)
	defer messageBus.Close()

	g, gctx := errgroup.WithContext(ctx)

	// Pipeline consumes the bus for every channel.
	g.Go(func() error {
		return a.pipeline.Run(gctx, messageBus)
	})

	channels := buildChannels(cfg, a)
	if len(channels) == 0 {
		return fmt.Errorf("no channels enabled in the config")
	}
	for _, ch := range channels {
		a.dispatcher.Register(ch)
		g.Go(func() error {
			logger.Info("channel starting", "channel", ch.Name())
			if err := ch.Start(gctx, messageBus); err != nil {
				return fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
			return nil
		})
	}

	// Daily retention sweep.
	if a.store != nil && cfg.History.RetentionDays > 0 {
		g.Go(func() error {
			retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
			ticker := time.NewTicker(retentionSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					deleted, err := a.store.Purge(gctx, retention)
					if err != nil {
						logger.Error("retention sweep failed", "err", err)
						continue
					}
					if deleted > 0 {
						logger.Info("retention sweep", "deleted", deleted)
					}
				}
			}
		})
	}

	logger.Info("agriguard started", "version", version, "channels", len(channels))

	<-ctx.Done()
	logger.Info("shutting down...")

	done := make(chan error, 1)
	go func() {
		for _, ch := range channels {
			_ = ch.Stop()
		}
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		logger.Info("shutdown complete")
		return err
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// buildChannels instantiates every channel enabled in the config.
func buildChannels(cfg *config.Config, a *app) []domain.Channel {
	var channels []domain.Channel

	var whatsapp *channel.WhatsApp
	if cfg.Channels.WhatsApp.Enabled {
		whatsapp = channel.NewWhatsApp(channel.WhatsAppOptions{
			Config: cfg.Channels.WhatsApp,
			Logger: logger,
		})
		channels = append(channels, whatsapp)
	}

	if cfg.Channels.Webhook.Enabled {
		webhook := channel.NewWebhook(channel.WebhookOptions{
			Host:    cfg.Channels.Webhook.Host,
			Port:    cfg.Channels.Webhook.Port,
			APIKey:  cfg.Channels.Webhook.APIKey,
			Adviser: a.pipeline,
			Logger:  logger,
			Metrics: cfg.Metrics.Enabled,
		})
		if whatsapp != nil {
			// WhatsApp's inbound webhook rides on the shared HTTP server.
			path := cfg.Channels.WhatsApp.WebhookPath
			if path == "" {
				path = "/webhook/whatsapp"
			}
			webhook.Mount(path, whatsapp.Handler())
		}
		channels = append(channels, webhook)
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		channels = append(channels, channel.NewTelegram(channel.TelegramOptions{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		}))
	}

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		channels = append(channels, channel.NewDiscord(channel.DiscordOptions{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		}))
	}

	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		channels = append(channels, channel.NewSlack(channel.SlackOptions{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		}))
	}

	return channels
}
