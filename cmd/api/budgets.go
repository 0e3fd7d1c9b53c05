package main

import (
	"context"
	"errors"

	"github.com/dvloznov/spend-forecaster/internal/budgets"
	"github.com/dvloznov/spend-forecaster/internal/domain"
)

var errNoStore = errors.New("budgets need PREDICTION_STORE set to sqlite or bigquery")

// noBudgets answers the budget routes when no store is configured.
type noBudgets struct{}

func (noBudgets) GenerateForUser(context.Context, string, budgets.Horizon) (*budgets.Result, error) {
	return nil, errNoStore
}

func (noBudgets) Latest(context.Context, string) ([]domain.DailyPrediction, error) {
	return nil, errNoStore
}
