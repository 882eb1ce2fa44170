package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marketbot/relay/internal/agent"
	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/internal/channels"
	"github.com/marketbot/relay/internal/channels/dingtalk"
	"github.com/marketbot/relay/internal/channels/discord"
	"github.com/marketbot/relay/internal/channels/slack"
	"github.com/marketbot/relay/internal/channels/telegram"
	"github.com/marketbot/relay/internal/channels/whatsapp"
	"github.com/marketbot/relay/internal/config"
	"github.com/marketbot/relay/internal/cron"
	"github.com/marketbot/relay/internal/gateway"
	"github.com/marketbot/relay/internal/pairing"
	"github.com/marketbot/relay/internal/providers"
	"github.com/marketbot/relay/internal/routing"
	"github.com/marketbot/relay/internal/telemetry"
	"github.com/marketbot/relay/pkg/protocol"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, telErr := telemetry.Setup(ctx, cfg.Telemetry)
		if telErr != nil {
			slog.Warn("telemetry setup failed", "error", telErr)
		} else {
			defer shutdown(context.Background())
		}
	}

	msgBus := bus.New()

	providerRegistry := providers.FromConfig(cfg)
	runner := agent.NewRunner(cfg, providerRegistry, msgBus)

	// DM pairing store. Failure only disables the pairing policy.
	var pairingStore *pairing.Store
	codeTTL := time.Duration(cfg.Pairing.CodeTTLMin) * time.Minute
	if ps, perr := pairing.Open(pairing.Options{Path: cfg.PairingDBPath(), CodeTTL: codeTTL}); perr != nil {
		slog.Warn("pairing store unavailable, pairing policy disabled", "error", perr)
	} else {
		pairingStore = ps
		defer ps.Close()
		go func() {
			t := time.NewTicker(time.Hour)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if err := ps.Prune(); err != nil {
						slog.Warn("pairing code prune failed", "error", err)
					}
				}
			}
		}()
	}

	router := routing.NewRouter(routing.RouterOptions{
		Bus:      msgBus,
		Bindings: cfg,
		Runner:   runner,
		Pairing:  pairingRouterChecker(pairingStore),
		Dedupe: routing.NewDedupeCache(
			time.Duration(cfg.Sessions.DedupeTTLMin)*time.Minute,
			cfg.Sessions.DedupeMaxKeys,
		),
	})
	go router.Run(ctx)

	channelMgr := channels.NewManager(msgBus)
	registerChannels(channelMgr, cfg, msgBus)
	channelMgr.RegisterChannel(gateway.GatewayChannelName, gateway.NewGatewayChannel(msgBus))

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
		os.Exit(1)
	}
	defer channelMgr.StopAll(context.Background())

	cronSched, err := cron.NewScheduler(msgBus, cfg.Cron.Jobs)
	if err != nil {
		slog.Error("invalid cron configuration", "error", err)
		os.Exit(1)
	}
	go cronSched.Run(ctx)

	server := gateway.NewServer(gateway.ServerOptions{
		Config:     cfg,
		Events:     msgBus,
		Bus:        msgBus,
		Routing:    router,
		Channels:   channelMgr,
		Cron:       cronSched,
		Runner:     runner,
		Pairing:    pairingStore,
		ConfigPath: cfgPath,
	})

	// Hot reload: swap config data in place and refresh the cron jobs.
	// Channel credentials need a restart to take effect.
	go func() {
		err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			cfg.ReplaceFrom(next)
			cfg.ApplyEnvOverrides()
			if err := cronSched.ReplaceJobs(cfg.Cron.Jobs); err != nil {
				slog.Error("config reload: cron jobs rejected", "error", err)
			}
		})
		if err != nil && ctx.Err() == nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		server.BroadcastEvent(*protocol.NewEvent(protocol.EventShutdown, nil))
		cancel()
	}()

	slog.Info("mbrelay gateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"host", cfg.Gateway.Host,
		"port", cfg.Gateway.Port,
		"providers", providerRegistry.Names(),
		"channels", channelMgr.EnabledChannels(),
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

// pairingRouterChecker adapts a possibly-nil store to the router's
// collaborator interface. A typed nil would defeat the router's nil check.
func pairingRouterChecker(ps *pairing.Store) routing.PairingChecker {
	if ps == nil {
		return nil
	}
	return ps
}

// registerChannels creates every channel the config enables.
func registerChannels(mgr *channels.Manager, cfg *config.Config, msgBus bus.MessageRouter) {
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		if ch, err := telegram.New(cfg.Channels.Telegram, msgBus); err != nil {
			slog.Error("failed to initialize telegram channel", "error", err)
		} else {
			mgr.RegisterChannel("telegram", ch)
			slog.Info("telegram channel enabled")
		}
	}

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		if ch, err := discord.New(cfg.Channels.Discord, msgBus); err != nil {
			slog.Error("failed to initialize discord channel", "error", err)
		} else {
			mgr.RegisterChannel("discord", ch)
			slog.Info("discord channel enabled")
		}
	}

	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		if ch, err := slack.New(cfg.Channels.Slack, msgBus); err != nil {
			slog.Error("failed to initialize slack channel", "error", err)
		} else {
			mgr.RegisterChannel("slack", ch)
			slog.Info("slack channel enabled")
		}
	}

	if cfg.Channels.WhatsApp.Enabled && cfg.Channels.WhatsApp.BridgeURL != "" {
		if ch, err := whatsapp.New(cfg.Channels.WhatsApp, msgBus); err != nil {
			slog.Error("failed to initialize whatsapp channel", "error", err)
		} else {
			mgr.RegisterChannel("whatsapp", ch)
			slog.Info("whatsapp channel enabled")
		}
	}

	if cfg.Channels.DingTalk.Enabled && cfg.Channels.DingTalk.ClientID != "" {
		if ch, err := dingtalk.New(cfg.Channels.DingTalk, msgBus); err != nil {
			slog.Error("failed to initialize dingtalk channel", "error", err)
		} else {
			mgr.RegisterChannel("dingtalk", ch)
			slog.Info("dingtalk channel enabled")
		}
	}
}
