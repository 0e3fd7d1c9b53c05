package main

import (
	"context"
	"flag"
	"os"

	"cloud.google.com/go/bigquery"
	infraBQ "github.com/dvloznov/spend-forecaster/internal/infra/bigquery"
	"github.com/dvloznov/spend-forecaster/internal/logger"
	"github.com/dvloznov/spend-forecaster/internal/storage"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	var (
		projectID  = flag.String("project", os.Getenv("GCP_PROJECT_ID"), "GCP project ID (BigQuery migrations are skipped when empty)")
		datasetID  = flag.String("dataset", envOr("BIGQUERY_DATASET", "finance"), "BigQuery dataset ID")
		appliedBy  = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		sqlitePath = flag.String("sqlite", envOr("SQLITE_DB_PATH", "./data/forecaster.db"), "SQLite database path (skipped when empty)")
	)
	flag.Parse()

	log := logger.New()
	ctx := context.Background()

	if *sqlitePath != "" {
		repo, err := storage.NewSQLiteRepository(*sqlitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *sqlitePath).Msg("SQLite migrations failed")
		}
		repo.Close()
		log.Info().Str("path", *sqlitePath).Msg("SQLite schema is up to date")
	}

	if *projectID == "" {
		log.Info().Msg("No GCP project configured, skipping BigQuery migrations")
		return
	}

	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	migrations, err := infraBQ.EmbeddedMigrations(*projectID, *datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}

	n, err := infraBQ.NewMigrator(client, *projectID, *datasetID, *appliedBy, log).Up(ctx, migrations)
	if err != nil {
		log.Fatal().Err(err).Msg("BigQuery migrations failed")
	}
	if n == 0 {
		log.Info().Msg("No new migrations to apply. Dataset is up to date.")
		return
	}
	log.Info().Int("applied", n).Msg("Successfully applied migrations")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
