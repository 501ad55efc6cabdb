package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/fable/internal/agent"
	"github.com/nextlevelbuilder/fable/internal/compact"
	"github.com/nextlevelbuilder/fable/internal/config"
	"github.com/nextlevelbuilder/fable/internal/fsatomic"
	"github.com/nextlevelbuilder/fable/internal/gateway"
	"github.com/nextlevelbuilder/fable/internal/logging"
	"github.com/nextlevelbuilder/fable/internal/telemetry"
)

func runServe() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		// The configured sink is not up yet; plain stderr is all we have.
		slog.Error("config.load_failed", "error", err)
		os.Exit(1)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	closeLogs := logging.Setup(cfg.Logging)
	defer closeLogs()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := telemetry.Setup(ctx, cfg.Telemetry, Version)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		shutdownTelemetry(flushCtx)
	}()

	if err := fsatomic.EnsureDir(cfg.Adventure.AdventuresDir); err != nil {
		slog.Error("server.adventures_dir_failed", "dir", cfg.Adventure.AdventuresDir, "error", err)
		os.Exit(1)
	}

	client := agent.NewProcClient(cfg.Agent)
	srv := gateway.NewServer(gateway.Options{
		Config:    cfg,
		Agent:     client,
		Compactor: compact.New(client, compact.DefaultConfig()),
		Version:   Version,
	})

	slog.Info("server.starting",
		"version", Version,
		"mock_agent", cfg.Agent.Mock,
		"adventures_dir", cfg.Adventure.AdventuresDir,
	)

	if err := srv.Start(ctx); err != nil {
		slog.Error("server.failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server.stopped")
}
