package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leadline-io/leadline/internal/agent"
	"github.com/leadline-io/leadline/internal/bootstrap"
	"github.com/leadline-io/leadline/internal/bus"
	"github.com/leadline-io/leadline/internal/config"
	"github.com/leadline-io/leadline/internal/convo"
	"github.com/leadline-io/leadline/internal/dispatch"
	"github.com/leadline-io/leadline/internal/gateway"
	"github.com/leadline-io/leadline/internal/ingest"
	"github.com/leadline-io/leadline/internal/session"
	"github.com/leadline-io/leadline/internal/store"
	"github.com/leadline-io/leadline/internal/store/pg"
	"github.com/leadline-io/leadline/internal/wire"
	"github.com/leadline-io/leadline/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the leadline core (sessions, ingest, AI dispatch, admin gateway)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	// Stores: Postgres when a DSN is configured, in-memory otherwise.
	var stores *store.Stores
	if cfg.Database.PostgresDSN != "" {
		stores, err = pg.NewPGStores(store.StoreConfig{PostgresDSN: cfg.Database.PostgresDSN})
		if err != nil {
			slog.Error("failed to open postgres stores", "error", err)
			os.Exit(1)
		}
		slog.Info("using postgres stores")
	} else {
		stores = store.NewMemoryStores()
		slog.Warn("no postgres DSN configured, using in-memory stores (state is lost on restart)")
		bootstrap.SeedDemoTenant(context.Background(), stores)
	}

	msgBus := bus.NewMessageBus()

	dialer := session.WireDialer{Dialer: &wire.Dialer{Config: wire.Config{
		WSURL:     cfg.Transport.WSURL,
		UserAgent: cfg.Transport.UserAgent,
	}}}
	registry := session.NewRegistry(dialer, stores, msgBus, msgBus)

	convos := convo.NewStore(stores.Conversations)

	reasoner := agent.NewAnthropicReasoner(agent.AnthropicConfig{
		APIKey:    cfg.Agent.APIKey,
		Model:     cfg.Agent.Model,
		MaxTokens: cfg.Agent.MaxTokens,
	})

	queue := dispatch.NewQueue()
	applier := dispatch.NewApplier(convos, stores.Tenants, stores.EventLog, registry, reasoner, msgBus)
	applier.SetComposing(cfg.Agent.Composing)
	governor := dispatch.NewGovernor(queue, applier)

	pipeline := ingest.NewPipeline(convos, stores.Tenants, queue, registry)

	handlers := gateway.NewHandlers(registry, convos, queue)
	server := gateway.NewServer(cfg, msgBus, handlers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pipeline.Run(ctx, msgBus)
	go governor.Run(ctx)

	// Live config reload: only the agent knobs apply without a restart.
	go func() {
		if err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			applier.SetComposing(next.Agent.Composing)
			slog.Info("config reloaded", "path", cfgPath)
		}); err != nil {
			slog.Debug("config watcher unavailable", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)

		server.BroadcastEvent(*protocol.NewEvent(protocol.EventShutdown, nil))
		registry.StopAll()
		msgBus.Close()
		cancel()
	}()

	slog.Info("leadline starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"addr", cfg.Gateway.Addr(),
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
