package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/outpostlabs/conduit/internal/agent"
	"github.com/outpostlabs/conduit/internal/agent/providers"
	"github.com/outpostlabs/conduit/internal/agent/routing"
	"github.com/outpostlabs/conduit/internal/audit"
	"github.com/outpostlabs/conduit/internal/channels"
	"github.com/outpostlabs/conduit/internal/channels/discord"
	"github.com/outpostlabs/conduit/internal/channels/slack"
	"github.com/outpostlabs/conduit/internal/channels/telegram"
	"github.com/outpostlabs/conduit/internal/config"
	"github.com/outpostlabs/conduit/internal/cron"
	"github.com/outpostlabs/conduit/internal/events"
	"github.com/outpostlabs/conduit/internal/mcp"
	"github.com/outpostlabs/conduit/internal/orchestrator"
	"github.com/outpostlabs/conduit/internal/sessions"
	"github.com/outpostlabs/conduit/internal/store"
	"github.com/outpostlabs/conduit/internal/usage"
	"github.com/outpostlabs/conduit/internal/webhook"
	"github.com/outpostlabs/conduit/pkg/models"
)

// server bundles everything runServe starts and must shut down in reverse
// order: channels first (stop producing inbound traffic), then the
// scheduler and extension manager, then the HTTP listeners.
type server struct {
	cfg        *config.Config
	logger     *slog.Logger
	orch       *orchestrator.Orchestrator
	registry   *channels.Registry
	scheduler  *cron.Scheduler
	extensions *mcp.Manager
	httpSrv    *http.Server
	metricsSrv *http.Server
	cancelPump context.CancelFunc
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := newLogger(level, cfg.Logging.Format)
	logger.Info("starting conduit", "config", configPath, "agents", len(cfg.Agents))

	srv, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.start(runCtx)
	}()

	select {
	case <-runCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited with error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.stop(shutdownCtx)
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	sessionStore, err := buildSessionStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	dataStore := store.New(cfg.Store.DataDir)

	registry := channels.NewRegistry()
	if err := registerChannels(registry, cfg); err != nil {
		return nil, err
	}

	scheduler := cron.NewScheduler()
	router := events.NewRouter(logger)

	extensions := mcp.NewManager(buildMCPConfig(cfg), logger)

	approvals := agent.NewApprovalChecker(nil)
	budget := usage.NewBudgetGate(dailyBudgets(cfg))

	orch, err := orchestrator.New(cfg, provider, sessionStore, dataStore, registry, scheduler, router, approvals, budget, extensions, logger)
	if err != nil {
		return nil, fmt.Errorf("construct orchestrator: %w", err)
	}

	if auditLogger, err := audit.NewLogger(audit.Config{
		Enabled: true,
		Level:   audit.LevelInfo,
		Format:  audit.FormatJSON,
		Output:  "stdout",
	}); err == nil {
		orch.SetAuditLogger(auditLogger)
	} else {
		logger.Warn("audit logging disabled", "error", err)
	}

	secrets := make(map[string]string)
	for _, a := range cfg.Agents {
		if a.WebhookSecret != "" {
			secrets[a.ID] = a.WebhookSecret
		}
	}
	webhookSrv := webhook.NewServer(router, secrets, logger)
	mux := http.NewServeMux()
	mux.Handle("/api/webhooks/", webhookSrv.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &server{
		cfg:        cfg,
		logger:     logger,
		orch:       orch,
		registry:   registry,
		scheduler:  scheduler,
		extensions: extensions,
		httpSrv:    httpSrv,
		metricsSrv: metricsSrv,
	}, nil
}

func (s *server) start(ctx context.Context) error {
	if err := s.extensions.Start(ctx); err != nil {
		s.logger.Warn("extension manager start failed", "error", err)
	}
	s.orch.RegisterExtensionTools()

	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	if err := s.registry.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	s.cancelPump = cancel
	go s.pumpInboundMessages(pumpCtx)

	go func() {
		s.logger.Info("webhook server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("webhook server failed", "error", err)
		}
	}()
	go func() {
		s.logger.Info("metrics server listening", "addr", s.metricsSrv.Addr)
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()

	<-ctx.Done()
	return nil
}

func (s *server) stop(ctx context.Context) error {
	if s.cancelPump != nil {
		s.cancelPump()
	}
	if err := s.registry.StopAll(ctx); err != nil {
		s.logger.Warn("stop channels", "error", err)
	}
	if err := s.scheduler.Stop(ctx); err != nil {
		s.logger.Warn("stop scheduler", "error", err)
	}
	if err := s.extensions.Stop(); err != nil {
		s.logger.Warn("stop extensions", "error", err)
	}
	s.orch.Stop()
	_ = s.httpSrv.Shutdown(ctx)
	_ = s.metricsSrv.Shutdown(ctx)
	return nil
}

// pumpInboundMessages bridges the channel registry's aggregated inbound
// stream into the orchestrator, resolving each message's agent from its
// (channel, channel-id) against the configured channel bindings.
func (s *server) pumpInboundMessages(ctx context.Context) {
	bindings := agentBindings(s.cfg)
	for msg := range s.registry.AggregateMessages(ctx) {
		agentID, ok := bindings[bindingKey(msg.Channel, msg.ChannelID)]
		if !ok {
			s.logger.Warn("no agent bound to inbound message", "channel", msg.Channel, "channel_id", msg.ChannelID)
			continue
		}
		if err := s.orch.HandleChannelMessage(ctx, agentID, msg); err != nil {
			s.logger.Error("handle channel message failed", "agent", agentID, "error", err)
		}
	}
}

func bindingKey(channel models.ChannelType, chatID string) string {
	return string(channel) + ":" + chatID
}

func agentBindings(cfg *config.Config) map[string]string {
	bindings := make(map[string]string, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if !a.IsEnabled() {
			continue
		}
		bindings[bindingKey(models.ChannelType(a.Channel.Type), a.Channel.ChatID)] = a.ID
	}
	return bindings
}

func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	built := make(map[string]agent.LLMProvider, len(cfg.LLM.Providers))
	for name, pc := range cfg.LLM.Providers {
		switch name {
		case "anthropic":
			p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			})
			if err != nil {
				return nil, fmt.Errorf("anthropic provider: %w", err)
			}
			built[name] = p
		case "openai":
			built[name] = providers.NewOpenAIProvider(pc.APIKey)
		default:
			return nil, fmt.Errorf("unknown llm provider %q", name)
		}
	}
	if len(built) == 0 {
		return nil, fmt.Errorf("no llm providers configured")
	}
	if len(built) == 1 {
		for _, p := range built {
			return p, nil
		}
	}
	return routing.NewRouter(routing.Config{DefaultProvider: cfg.LLM.DefaultProvider}, built), nil
}

func buildSessionStore(ctx context.Context, cfg *config.Config) (sessions.Store, error) {
	if cfg.Database.URL == "" {
		return sessions.NewMemoryStore(), nil
	}
	dbStore, err := sessions.NewCockroachStoreFromDSN(cfg.Database.URL, sessions.DefaultCockroachConfig())
	if err != nil {
		return nil, fmt.Errorf("connect session store: %w", err)
	}
	return dbStore, nil
}

func registerChannels(registry *channels.Registry, cfg *config.Config) error {
	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{Token: cfg.Channels.Telegram.BotToken})
		if err != nil {
			return fmt.Errorf("telegram adapter: %w", err)
		}
		registry.Register(adapter)
	}
	if cfg.Channels.Discord.Enabled {
		adapter, err := discord.NewAdapter(discord.Config{Token: cfg.Channels.Discord.BotToken})
		if err != nil {
			return fmt.Errorf("discord adapter: %w", err)
		}
		registry.Register(adapter)
	}
	if cfg.Channels.Slack.Enabled {
		adapter := slack.NewAdapter(slack.Config{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
		})
		registry.Register(adapter)
	}
	return nil
}

// buildMCPConfig aggregates every configured agent's extension-server list
// into the single process-wide mcp.Config the Orchestrator's shared
// Manager expects, deduping by server id.
func buildMCPConfig(cfg *config.Config) *mcp.Config {
	seen := make(map[string]struct{})
	var servers []*mcp.ServerConfig
	for _, a := range cfg.Agents {
		for _, es := range a.ExtensionServers {
			if _, ok := seen[es.ID]; ok {
				continue
			}
			seen[es.ID] = struct{}{}
			servers = append(servers, &mcp.ServerConfig{
				ID:             es.ID,
				Name:           es.ID,
				Transport:      mcp.TransportStdio,
				Command:        es.Command,
				Args:           es.Args,
				Env:            es.Env,
				Framing:        framingMode(es.Transport),
				AutoStart:      true,
				ConnectTimeout: es.ConnectTimeout,
			})
		}
	}
	return &mcp.Config{Enabled: len(servers) > 0, Servers: servers}
}

func framingMode(transport string) mcp.FramingMode {
	if transport == "length-prefixed" || transport == "length_prefixed" {
		return mcp.FramingLengthPrefixed
	}
	return mcp.FramingLine
}

func dailyBudgets(cfg *config.Config) map[string]float64 {
	caps := make(map[string]float64, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if a.DailyBudgetUSD > 0 {
			caps[a.ID] = a.DailyBudgetUSD
		}
	}
	return caps
}
