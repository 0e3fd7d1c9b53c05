package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/spend-forecaster/internal/commands"
	"github.com/dvloznov/spend-forecaster/internal/config"
	"github.com/dvloznov/spend-forecaster/internal/logger"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logger.NewWithOptions(os.Stderr, logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log = logger.NewWithWriter(os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRootCommand(log).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
