package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/advisorlabs/clerk/internal/agent"
	"github.com/advisorlabs/clerk/internal/agent/providers"
	"github.com/advisorlabs/clerk/internal/audit"
	"github.com/advisorlabs/clerk/internal/config"
	"github.com/advisorlabs/clerk/internal/consent"
	"github.com/advisorlabs/clerk/internal/integrations"
	"github.com/advisorlabs/clerk/internal/observability"
	"github.com/advisorlabs/clerk/internal/scheduler"
	"github.com/advisorlabs/clerk/internal/server"
	"github.com/advisorlabs/clerk/internal/storage"
	"github.com/advisorlabs/clerk/internal/tools"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the clerk server",
		Long: `Start the clerk server: the conversation engine over HTTP and
WebSocket, webhook ingestion for proactive evaluation, and the periodic
follow-up sweep for waiting tasks.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  clerk serve

  # Start with custom config
  clerk serve --config /etc/clerk/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := buildLogger(cfg, debug)

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	recorder := audit.NewRecorder(store, logger)
	gate := consent.NewGate(store, logger)

	registry := tools.NewRegistry()
	if err := registerTools(registry, store); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	dispatcher := tools.NewDispatcher(tools.DispatcherConfig{
		Registry: registry,
		Gate:     gate,
		Recorder: recorder,
		Logger:   logger,
		Metrics:  metrics,
	})

	engine := agent.NewEngine(agent.EngineDeps{
		Provider:   provider,
		Registry:   registry,
		Dispatcher: dispatcher,
		Store:      store,
		Recorder:   recorder,
		Logger:     logger,
		Metrics:    metrics,
		Config: agent.Config{
			Model:        cfg.Provider(cfg.LLM.DefaultProvider).DefaultModel,
			MaxTurns:     cfg.Engine.MaxTurns,
			MaxTokens:    cfg.Engine.MaxTokens,
			Temperature:  cfg.Engine.Temperature,
			HistoryLimit: cfg.Engine.HistoryLimit,
		},
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		sweep := scheduler.New(store, engine, scheduler.Config{
			CronSpec:   cfg.Scheduler.FollowupCron,
			WaitingAge: cfg.Scheduler.WaitingAge,
			Logger:     logger,
		})
		if err := sweep.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sweep.Stop()
	}

	srv := server.New(server.Deps{
		Engine:  engine,
		Gate:    gate,
		Store:   store,
		Auth:    server.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry),
		Logger:  logger,
		Metrics: metrics,
		Config: server.Config{
			Host:        cfg.Server.Host,
			HTTPPort:    cfg.Server.HTTPPort,
			ReadTimeout: cfg.Server.ReadTimeout,
		},
	})
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	if configPath != "" {
		watcher := config.NewWatcher(configPath, logger, func(next *config.Config) {
			logger.Info("configuration changed; restart to apply engine and server settings")
		})
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watch unavailable", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildProvider creates the configured LLM provider. API keys fall back to
// the conventional environment variables.
func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	name := strings.ToLower(cfg.LLM.DefaultProvider)
	pc := cfg.Provider(name)

	switch name {
	case "openai":
		key := pc.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return providers.NewOpenAIProvider(key), nil
	case "anthropic":
		key := pc.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       key,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

// registerTools wires the full tool surface. Store-backed tools always
// work; the external integrations report themselves unconfigured until a
// deployment plugs in real clients.
func registerTools(registry *tools.Registry, store storage.Store) error {
	mailer := integrations.UnconfiguredMailer{}
	calendar := integrations.UnconfiguredCalendar{}
	crm := integrations.UnconfiguredCRM{}
	searcher := integrations.UnconfiguredSearcher{}

	for _, tool := range []tools.Tool{
		tools.NewSearchKnowledgeBaseTool(searcher),
		tools.NewSearchEmailsTool(mailer),
		tools.NewSendEmailTool(mailer),
		tools.NewCheckAvailabilityTool(calendar),
		tools.NewCreateCalendarEventTool(calendar),
		tools.NewSearchCalendarEventsTool(calendar),
		tools.NewSearchCRMContactsTool(crm),
		tools.NewCreateCRMContactTool(crm),
		tools.NewAddCRMNoteTool(crm),
		tools.NewCreateTaskTool(store),
		tools.NewUpdateTaskTool(store),
		tools.NewSaveInstructionTool(store),
	} {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
