package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"agriguard/internal/bus"
	"agriguard/internal/channel"
	"agriguard/internal/config"
	"agriguard/internal/domain"
	"agriguard/internal/history"
	"agriguard/internal/provider"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// Local .env files carry GROQ_API_KEY and channel tokens in development.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "agriguard",
		Short: "AgriGuard: agricultural advisory service",
		Long:  "AgriGuard routes farmer questions from chat channels to an LLM provider and shapes the answers into advisories, escalating urgent pest and weather problems.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.agriguard/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(askCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from the --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config to ~/.agriguard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			messageBus := bus.New(100, logger)
			defer messageBus.Close()

			cli := channel.NewCLI(channel.CLIOptions{Logger: logger})
			app.dispatcher.Register(cli)

			go func() {
				if err := app.pipeline.Run(ctx, messageBus); err != nil {
					logger.Error("pipeline stopped", "err", err)
				}
			}()

			return cli.Start(ctx, messageBus)
		},
	}
}

func askCmd() *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the advisory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			question := ""
			for i, a := range args {
				if i > 0 {
					question += " "
				}
				question += a
			}

			cli := channel.NewCLI(channel.CLIOptions{Logger: logger, Out: os.Stdout})
			app.dispatcher.Register(cli)

			adv := app.pipeline.Process(ctx, domain.InboundMessage{
				Channel:   "cli",
				ChatID:    "direct",
				SenderID:  "cli-user",
				Content:   question,
				Language:  language,
				Timestamp: time.Now(),
			})

			fmt.Printf("\ncategory: %s (%.2f)  urgency: %d  status: %s  latency: %s\n",
				adv.Category.Category, adv.Category.Confidence, adv.Query.Urgency, adv.Status, adv.Latency)
			if adv.State == domain.StateDeliveryFailed {
				return fmt.Errorf("delivery failed: %v", adv.Delivery.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "ISO 639-1 language hint")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show advisory statistics from the local history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return fmt.Errorf("history is disabled in the config")
			}

			store, err := history.NewStore(config.ExpandPath(cfg.History.DBPath), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("total queries:   %d\n", stats.TotalQueries)
			fmt.Printf("emergencies:     %d\n", stats.Emergencies)
			fmt.Printf("alerts sent:     %d\n", stats.AlertsSent)
			if stats.TotalQueries > 0 {
				fmt.Printf("latency ms:      avg %.0f  min %d  max %d\n",
					stats.AvgLatencyMs, stats.MinLatencyMs, stats.MaxLatencyMs)
				fmt.Printf("sub-second:      %d (%.0f%%)\n", stats.SubSecond,
					100*float64(stats.SubSecond)/float64(stats.TotalQueries))
				fmt.Printf("oldest / newest: %s / %s\n",
					stats.OldestQuery.Format(time.RFC3339), stats.NewestQuery.Format(time.RFC3339))
			}
			fmt.Println("by category:")
			for cat, n := range stats.ByCategory {
				fmt.Printf("  %-10s %d\n", cat, n)
			}
			fmt.Println("by status:")
			for status, n := range stats.ByStatus {
				fmt.Printf("  %-10s %d\n", status, n)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check config and provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			ctx := context.Background()
			factory := provider.NewFactory(cfg, logger)
			prov := factory.HealthyProvider(ctx)
			if prov != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", true)
			} else {
				logger.Info("provider", "healthy", false)
			}
			logger.Info("version", "agriguard", version)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. providers.groq.timeoutMs)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.defaultProvider ollama)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized, err := config.Sanitize(cfg)
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
