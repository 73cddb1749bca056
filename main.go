package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chaptr/backend/internal/app"
	"chaptr/backend/internal/config"
	"chaptr/backend/internal/logger"
)

func main() {
	// Initialize structured logger
	log := logger.New(os.Stdout, os.Getenv("LOG_LEVEL"))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log = logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("app exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer deps.Close()

	a, err := app.New(ctx, cfg, deps)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	log.Info("chaptr backend ready",
		"vector_backend", cfg.VectorBackend,
		"process_worker", cfg.EnableProcessWorker,
		"tokenizer", cfg.TokenizerEncoding)
	return a.Run(ctx)
}
