package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/dvloznov/spend-forecaster/internal/forecast"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// HTTP Server
	Port        string
	CORSOrigins []string

	// Logging
	LogLevel  string
	LogFormat string

	// Transactions
	TransactionSource    string // csv or bigquery
	TransactionsCSV      string
	BigQueryProject      string
	BigQueryDataset      string
	BigQueryEntityColumn string

	// Model artifacts
	ArtifactBackend string // fs, gcs or memory
	ArtifactDir     string
	GCSBucket       string
	GCSPrefix       string

	// Budgets and stored predictions
	PredictionStore string // sqlite, bigquery or none
	SQLiteDBPath    string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Training and inference
	PredictionMode  string
	TrainWorkers    int
	PredictWorkers  int
	JobMaxRetries   int
	TrainingProfile string

	// Advisor
	GeminiModel string
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "console"),

		TransactionSource:    getEnv("TRANSACTION_SOURCE", "csv"),
		TransactionsCSV:      getEnv("TRANSACTIONS_CSV", "./data/transactions.csv"),
		BigQueryProject:      getEnv("GCP_PROJECT_ID", ""),
		BigQueryDataset:      getEnv("BIGQUERY_DATASET", "finance"),
		BigQueryEntityColumn: getEnv("BIGQUERY_ENTITY_COLUMN", "account_id"),

		ArtifactBackend: getEnv("ARTIFACT_BACKEND", "fs"),
		ArtifactDir:     getEnv("ARTIFACT_DIR", "./models"),
		GCSBucket:       getEnv("GCS_BUCKET", ""),
		GCSPrefix:       getEnv("GCS_PREFIX", "models"),

		PredictionStore: getEnv("PREDICTION_STORE", "sqlite"),
		SQLiteDBPath:    getEnv("SQLITE_DB_PATH", "./data/forecaster.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "forecaster"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "train_models"),

		PredictionMode:  getEnv("PREDICTION_MODE", string(forecast.ModeGlobal)),
		TrainWorkers:    getEnvInt("TRAIN_WORKERS", 2),
		PredictWorkers:  getEnvInt("PREDICT_WORKERS", 4),
		JobMaxRetries:   getEnvInt("JOB_MAX_RETRIES", 2),
		TrainingProfile: getEnv("TRAINING_PROFILE", ""),

		GeminiModel: getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.TransactionSource {
	case "csv":
		if c.TransactionsCSV == "" {
			errors = append(errors, "TRANSACTIONS_CSV is required when using the csv transaction source")
		}
	case "bigquery":
		if c.BigQueryProject == "" {
			errors = append(errors, "GCP_PROJECT_ID is required when using the bigquery transaction source")
		}
		if c.BigQueryEntityColumn != "account_id" && c.BigQueryEntityColumn != "user_id" {
			errors = append(errors, fmt.Sprintf("invalid BigQuery entity column '%s': must be account_id or user_id", c.BigQueryEntityColumn))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid transaction source '%s': must be one of [csv bigquery]", c.TransactionSource))
	}

	validBackends := []string{"fs", "gcs", "memory"}
	if !slices.Contains(validBackends, c.ArtifactBackend) {
		errors = append(errors, fmt.Sprintf("invalid artifact backend '%s': must be one of %v", c.ArtifactBackend, validBackends))
	}
	if c.ArtifactBackend == "fs" && c.ArtifactDir == "" {
		errors = append(errors, "ARTIFACT_DIR cannot be empty when using the fs artifact backend")
	}
	if c.ArtifactBackend == "gcs" && c.GCSBucket == "" {
		errors = append(errors, "GCS_BUCKET is required when using the gcs artifact backend")
	}

	validStores := []string{"sqlite", "bigquery", "none"}
	if !slices.Contains(validStores, c.PredictionStore) {
		errors = append(errors, fmt.Sprintf("invalid prediction store '%s': must be one of %v", c.PredictionStore, validStores))
	}
	if c.PredictionStore == "sqlite" && c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty when using the sqlite prediction store")
	}
	if c.PredictionStore == "bigquery" && c.BigQueryProject == "" {
		errors = append(errors, "GCP_PROJECT_ID is required when using the bigquery prediction store")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if _, err := forecast.ParseMode(c.PredictionMode); err != nil {
		errors = append(errors, err.Error())
	}
	if c.TrainWorkers < 1 {
		errors = append(errors, fmt.Sprintf("invalid train workers %d: must be at least 1", c.TrainWorkers))
	}
	if c.PredictWorkers < 1 {
		errors = append(errors, fmt.Sprintf("invalid predict workers %d: must be at least 1", c.PredictWorkers))
	}
	if c.JobMaxRetries < 0 {
		errors = append(errors, fmt.Sprintf("invalid job max retries %d: must not be negative", c.JobMaxRetries))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// Mode returns the validated default prediction mode.
func (c *Config) Mode() forecast.Mode {
	m, err := forecast.ParseMode(c.PredictionMode)
	if err != nil {
		return forecast.ModeGlobal
	}
	return m
}

// TrainConfig returns the training hyperparameters: the defaults, overridden
// by the YAML profile when TRAINING_PROFILE is set.
func (c *Config) TrainConfig() (forecast.TrainConfig, error) {
	if c.TrainingProfile == "" {
		return forecast.DefaultTrainConfig(), nil
	}
	return LoadTrainingProfile(c.TrainingProfile)
}

// LoadTrainingProfile reads a YAML training profile. Fields the file leaves
// out keep their default values.
func LoadTrainingProfile(path string) (forecast.TrainConfig, error) {
	cfg := forecast.DefaultTrainConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading training profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing training profile %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("training profile %s: %w", path, err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
