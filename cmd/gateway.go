package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/huddleclaw/internal/agent"
	"github.com/nextlevelbuilder/huddleclaw/internal/channels"
	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle"
	"github.com/nextlevelbuilder/huddleclaw/internal/config"
	"github.com/nextlevelbuilder/huddleclaw/internal/gateway"
	"github.com/nextlevelbuilder/huddleclaw/internal/store"
	"github.com/nextlevelbuilder/huddleclaw/internal/store/sqlite"
	"github.com/nextlevelbuilder/huddleclaw/internal/tracing"
	"github.com/nextlevelbuilder/huddleclaw/pkg/protocol"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the Huddle connector (default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if !cfg.Channels.Huddle.Enabled {
		if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
			fmt.Println("No configuration found. Run the setup wizard first:")
			fmt.Println()
			fmt.Println("  huddleclaw onboard")
			os.Exit(1)
		}
		slog.Warn("huddle channel is disabled in config; nothing to connect", "config", cfgPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	pairingStore, err := openPairingStore(cfg)
	if err != nil {
		slog.Error("failed to open pairing store", "error", err)
		os.Exit(1)
	}
	defer pairingStore.Close()

	runtime, err := buildRuntime(ctx, cfg)
	if err != nil {
		slog.Error("failed to set up agent runtime", "error", err)
		os.Exit(1)
	}

	channelMgr := channels.NewManager()
	hc := huddle.New(huddle.Options{
		Settings: cfg.HuddleSnapshot,
		Bindings: cfg.BindingsSnapshot,
		Runtime:  runtime,
		Pairing:  pairingStore,
	})
	if cfg.Channels.Huddle.Enabled {
		channelMgr.RegisterChannel(hc.Name(), hc)
	}
	if bridge, ok := runtime.(*gateway.Bridge); ok {
		bridge.SetOutbound(channelMgr)
		bridge.SetStatus(channelMgr.GetStatus)
	}

	go func() {
		err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			cfg.ReplaceFrom(next)
			if err := hc.Reconcile(ctx); err != nil {
				slog.Warn("huddle reconcile after config change reported errors", "error", err)
			}
		})
		if err != nil {
			slog.Warn("config hot reload unavailable", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	slog.Info("huddleclaw running",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"agent_mode", cfg.Agent.Mode,
		"channels", channelMgr.GetEnabledChannels(),
	)

	sig := <-sigCh
	slog.Info("graceful shutdown initiated", "signal", sig)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	channelMgr.StopAll(stopCtx)
	cancel()
	slog.Info("huddleclaw stopped")
}

func openPairingStore(cfg *config.Config) (store.PairingStore, error) {
	path := config.ExpandHome(cfg.Pairing.StorePath)
	if path == "" {
		path = config.ExpandHome(config.Default().Pairing.StorePath)
	}
	s, err := sqlite.OpenPairingStore(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// buildRuntime selects the agent runtime: an HTTP endpoint per turn, or the WebSocket
// bridge agents connect into.
func buildRuntime(ctx context.Context, cfg *config.Config) (agent.Runtime, error) {
	timeout := time.Duration(cfg.Agent.TimeoutSec) * time.Second
	switch cfg.Agent.Mode {
	case "", "http":
		if cfg.Agent.URL == "" {
			return nil, fmt.Errorf("agent.url is required in http mode")
		}
		slog.Info("agent runtime: http", "url", cfg.Agent.URL)
		return agent.NewHTTPRuntime(cfg.Agent.URL, cfg.Agent.Token, timeout), nil
	case "gateway":
		bridge := gateway.NewBridge(cfg.Gateway)
		go func() {
			if err := bridge.Start(ctx); err != nil {
				slog.Error("agent bridge stopped", "error", err)
			}
		}()
		slog.Info("agent runtime: gateway bridge", "port", cfg.Gateway.Port)
		return bridge, nil
	default:
		return nil, fmt.Errorf("unknown agent.mode %q (want http or gateway)", cfg.Agent.Mode)
	}
}
