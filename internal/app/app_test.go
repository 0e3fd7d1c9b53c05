package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-forecaster/internal/config"
	"github.com/dvloznov/spend-forecaster/internal/domain"
	"github.com/dvloznov/spend-forecaster/internal/forecast"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTxns() []domain.Transaction {
	day := civil.Date{Year: 2024, Month: 4, Day: 1}
	return []domain.Transaction{
		{EntityID: "acc2", Date: day, Amount: -10, Category: "Groceries"},
		{EntityID: "acc1", Date: day, Amount: -5, Category: "groceries"},
		{EntityID: "acc1", Date: day, Amount: -7, Category: "Transport", Type: domain.TxnDebit},
		{EntityID: "acc1", Date: day, Amount: 900, Category: "Salary", Type: domain.TxnCredit},
		{EntityID: "acc3", Date: day, Amount: -1},
	}
}

func TestTrainingUnits(t *testing.T) {
	tests := []struct {
		name string
		mode forecast.Mode
		want []forecast.TrainRequest
	}{
		{
			name: "global",
			mode: forecast.ModeGlobal,
			want: []forecast.TrainRequest{
				{Category: "Groceries"},
				{Category: "Transport"},
			},
		},
		{
			name: "user",
			mode: forecast.ModeUser,
			want: []forecast.TrainRequest{
				{EntityID: "acc1", Category: "Groceries"},
				{EntityID: "acc1", Category: "Transport"},
				{EntityID: "acc2", Category: "Groceries"},
			},
		},
		{
			name: "auto",
			mode: forecast.ModeAuto,
			want: []forecast.TrainRequest{
				{Category: "Groceries"},
				{Category: "Transport"},
				{EntityID: "acc1", Category: "Groceries"},
				{EntityID: "acc1", Category: "Transport"},
				{EntityID: "acc2", Category: "Groceries"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrainingUnits(sampleTxns(), tt.mode))
		})
	}
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "transactions.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(
		"account_id,date,amount,category\n"+
			"acc1,2024-04-01,-12.50,Groceries\n"+
			"acc1,2024-04-02,-3.00,Transport\n"), 0o644))

	cfg := config.Load()
	cfg.Port = "8080"
	cfg.TransactionSource = "csv"
	cfg.TransactionsCSV = csvPath
	cfg.ArtifactBackend = "fs"
	cfg.ArtifactDir = filepath.Join(dir, "models")
	cfg.PredictionStore = "sqlite"
	cfg.SQLiteDBPath = filepath.Join(dir, "forecaster.db")
	cfg.AMQPURL = ""
	cfg.PredictionMode = "global"
	cfg.TrainingProfile = ""
	return cfg
}

func TestNew_LocalStack(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Trainer)
	assert.NotNil(t, a.Predictor)
	svc, err := a.RequireBudgets()
	require.NoError(t, err)
	assert.NotNil(t, svc)

	units, err := a.TrainingUnits(context.Background(), forecast.ModeGlobal)
	require.NoError(t, err)
	assert.Equal(t, []forecast.TrainRequest{{Category: "Groceries"}, {Category: "Transport"}}, units)

	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close(), "second close is a no-op")
}

func TestNew_WithoutPredictionStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.PredictionStore = "none"
	cfg.ArtifactBackend = "memory"

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Budgets)
	_, err = a.RequireBudgets()
	assert.Error(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.ArtifactBackend = "s3"

	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid artifact backend")
}
