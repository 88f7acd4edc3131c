package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"foodlink/internal/app"
	"foodlink/internal/platform/config"
	"foodlink/internal/platform/logger"
)

// main loads configuration, wires the app and runs it until interrupted.
// Business logic lives in the internal service packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	log.Info("starting foodlink",
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Backend,
		"kafka", cfg.Kafka.Enabled,
	)
	if err := a.Run(ctx); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}
