package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/spend-forecaster/internal/app"
	"github.com/dvloznov/spend-forecaster/internal/config"
	"github.com/dvloznov/spend-forecaster/internal/jobs"
	"github.com/dvloznov/spend-forecaster/internal/jobs/amqp"
	"github.com/dvloznov/spend-forecaster/internal/jobs/inmemory"
	"github.com/dvloznov/spend-forecaster/internal/logger"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logger.NewWithOptions(os.Stdout, logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log = logger.New()
		log.Warn().Err(err).Msg("Invalid logging configuration, using defaults")
	}

	if cfg.AMQPURL == "" {
		log.Fatal().Msg("AMQP_URL is required for the training worker")
	}

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize components")
	}
	defer a.Close()

	consumer, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
		amqp.WithWorkers(cfg.TrainWorkers),
		amqp.WithStore(inmemory.NewStore()),
		amqp.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to AMQP broker")
	}
	defer consumer.Close()

	log.Info().Str("queue", cfg.AMQPQueue).Int("workers", cfg.TrainWorkers).Msg("Starting training worker")

	if err := consumer.Start(ctx, jobs.TrainHandler(a.Trainer, jobs.NewPrefixLocker())); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Msg("Worker started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker exited")
}
