package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/spend-forecaster/internal/api"
	"github.com/dvloznov/spend-forecaster/internal/app"
	"github.com/dvloznov/spend-forecaster/internal/config"
	"github.com/dvloznov/spend-forecaster/internal/jobs"
	"github.com/dvloznov/spend-forecaster/internal/jobs/amqp"
	"github.com/dvloznov/spend-forecaster/internal/jobs/inmemory"
	"github.com/dvloznov/spend-forecaster/internal/logger"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file for local development (ignore errors in production)
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logger.NewWithOptions(os.Stdout, logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log = logger.New()
		log.Warn().Err(err).Msg("Invalid logging configuration, using defaults")
	}

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize components")
	}
	defer a.Close()

	// Jobs run in this process unless a broker is configured, in which case
	// cmd/worker consumes them.
	jobStore := inmemory.NewStore()
	var publisher jobs.Publisher
	var jobQueue *inmemory.Queue

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
			amqp.WithStore(jobStore), amqp.WithLogger(log))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to AMQP broker")
		}
		defer client.Close()
		publisher = client
		log.Info().Str("queue", cfg.AMQPQueue).Msg("Publishing training jobs to AMQP")
	} else {
		jobQueue = inmemory.NewQueue(100, jobStore,
			inmemory.WithWorkers(cfg.TrainWorkers),
			inmemory.WithLogger(log))
		if err := jobQueue.Start(workerCtx, jobs.TrainHandler(a.Trainer, jobs.NewPrefixLocker())); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job worker")
		}
		publisher = jobQueue
		log.Info().Int("workers", cfg.TrainWorkers).Msg("Training jobs run in-process")
	}

	services := api.Services{
		Forecaster:     a.Predictor,
		Publisher:      publisher,
		Jobs:           jobStore,
		JobMaxRetries:  cfg.JobMaxRetries,
		AllowedOrigins: cfg.CORSOrigins,
	}
	if a.Budgets != nil {
		services.Budgets = a.Budgets
	} else {
		log.Warn().Msg("No prediction store configured - budget endpoints will fail")
		services.Budgets = noBudgets{}
	}
	if adv, err := a.NewAdvisor(ctx); err != nil {
		log.Warn().Err(err).Msg("Advisor disabled")
	} else {
		services.Adviser = adv
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(services, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	cancelWorker()
	if jobQueue != nil {
		if err := jobQueue.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping job queue")
		}
	}

	log.Info().Msg("Server exited")
}
