// Package app builds the forecaster's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dvloznov/spend-forecaster/internal/advisor"
	"github.com/dvloznov/spend-forecaster/internal/artifacts"
	"github.com/dvloznov/spend-forecaster/internal/budgets"
	"github.com/dvloznov/spend-forecaster/internal/config"
	"github.com/dvloznov/spend-forecaster/internal/domain"
	"github.com/dvloznov/spend-forecaster/internal/forecast"
	infraBQ "github.com/dvloznov/spend-forecaster/internal/infra/bigquery"
	"github.com/dvloznov/spend-forecaster/internal/ingest"
	"github.com/dvloznov/spend-forecaster/internal/storage"
	"github.com/rs/zerolog"
)

// App holds the wired components shared by the API, worker and CLI.
type App struct {
	Config      *config.Config
	Log         zerolog.Logger
	Source      forecast.Source
	Artifacts   artifacts.Store
	Trainer     *forecast.Trainer
	Predictor   *forecast.Predictor
	Budgets     *budgets.Service
	BudgetStore *storage.SQLiteRepository

	closers []func() error
}

// New validates cfg and builds every component it selects. Close releases
// whatever New opened, also when New itself fails halfway.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	trainCfg, err := cfg.TrainConfig()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Log: log}
	if err := a.build(ctx, trainCfg); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, trainCfg forecast.TrainConfig) error {
	cfg := a.Config

	switch cfg.TransactionSource {
	case "bigquery":
		src, err := infraBQ.NewTransactionSource(ctx, cfg.BigQueryProject, cfg.BigQueryDataset, cfg.BigQueryEntityColumn)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, src.Close)
		a.Source = src
	default:
		a.Source = ingest.NewCSVSource(cfg.TransactionsCSV)
	}

	switch cfg.ArtifactBackend {
	case "gcs":
		store, err := artifacts.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		a.Artifacts = store
	case "memory":
		a.Artifacts = artifacts.NewMemoryStore()
	default:
		store, err := artifacts.NewFSStore(cfg.ArtifactDir)
		if err != nil {
			return err
		}
		a.Artifacts = store
	}

	a.Trainer = forecast.NewTrainer(a.Source, a.Artifacts, trainCfg, a.Log.With().Str("component", "trainer").Logger())
	a.Predictor = forecast.NewPredictor(a.Source, a.Artifacts, a.Log.With().Str("component", "predictor").Logger(),
		forecast.WithDefaultMode(cfg.Mode()))

	if cfg.PredictionStore == "none" {
		return nil
	}

	// Budgets always live in SQLite; predictions follow PREDICTION_STORE.
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, repo.Close)
	a.BudgetStore = repo

	var predictions budgets.PredictionRepository = repo
	if cfg.PredictionStore == "bigquery" {
		bq, err := infraBQ.NewPredictionRepository(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, bq.Close)
		if err := bq.EnsureTable(ctx); err != nil {
			return err
		}
		predictions = bq
	}

	a.Budgets = budgets.NewService(repo, predictions, a.Predictor, cfg.PredictWorkers,
		a.Log.With().Str("component", "budgets").Logger())
	return nil
}

// NewAdvisor creates the Gemini-backed advisor.
func (a *App) NewAdvisor(ctx context.Context) (*advisor.Advisor, error) {
	gen, err := advisor.NewGeminiGenerator(ctx, a.Config.GeminiModel)
	if err != nil {
		return nil, err
	}
	var predictions advisor.PredictionReader
	if a.Budgets != nil {
		predictions = a.Budgets
	}
	return advisor.New(a.Source, predictions, gen, a.Log.With().Str("component", "advisor").Logger()), nil
}

// RequireBudgets returns the budgets service or an error when no store is configured.
func (a *App) RequireBudgets() (*budgets.Service, error) {
	if a.Budgets == nil {
		return nil, errors.New("budgets need PREDICTION_STORE set to sqlite or bigquery")
	}
	return a.Budgets, nil
}

// TrainingUnits lists the training requests covering every category with
// spend in the source. Global mode yields one request per category, user mode
// one per entity and category, and auto mode both.
func (a *App) TrainingUnits(ctx context.Context, mode forecast.Mode) ([]forecast.TrainRequest, error) {
	txns, err := a.Source.Load(ctx, forecast.Query{})
	if err != nil {
		return nil, fmt.Errorf("TrainingUnits: loading transactions: %w", err)
	}
	return TrainingUnits(txns, mode), nil
}

// TrainingUnits derives the training requests from txns. Categories are
// matched case-insensitively and keep their first spelling; the result is
// sorted with global units first.
func TrainingUnits(txns []domain.Transaction, mode forecast.Mode) []forecast.TrainRequest {
	type unit struct{ entity, category string }

	var spellings []string
	canonical := func(c string) string {
		for _, s := range spellings {
			if domain.SameCategory(s, c) {
				return s
			}
		}
		spellings = append(spellings, c)
		return c
	}

	seen := make(map[unit]bool)
	var out []forecast.TrainRequest
	add := func(u unit) {
		if !seen[u] {
			seen[u] = true
			out = append(out, forecast.TrainRequest{EntityID: u.entity, Category: u.category})
		}
	}

	for _, t := range txns {
		if !t.IsDebit() || t.Category == "" {
			continue
		}
		c := canonical(t.Category)
		if mode == forecast.ModeGlobal || mode == forecast.ModeAuto {
			add(unit{category: c})
		}
		if (mode == forecast.ModeUser || mode == forecast.ModeAuto) && t.EntityID != "" {
			add(unit{entity: t.EntityID, category: c})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// Close releases clients and databases in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
