package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProfile = `
look_back: 7
hidden: 6
epochs: 2
grid:
  n_estimators: [5, 10]
  max_depth: [2, 3]
  learning_rate: [0.3, 0.1]
fallback:
  n_estimators: 10
  max_depth: 3
  learning_rate: 0.3
  lambda: 1
  min_child_weight: 1
`

// setupEnv points the configuration at a temporary CSV export with sixty
// days of grocery spend ending yesterday.
func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()

	var csv strings.Builder
	csv.WriteString("account_id,date,amount,category\n")
	today := civil.DateOf(time.Now())
	for d := 60; d >= 1; d-- {
		date := today.AddDays(-d)
		amount := 20 + 2*float64(d%7)
		if wd := date.In(time.UTC).Weekday(); wd == time.Saturday || wd == time.Sunday {
			amount *= 2
		}
		fmt.Fprintf(&csv, "acc1,%s,-%.2f,Groceries\n", date, amount)
	}
	csvPath := filepath.Join(dir, "transactions.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(csv.String()), 0o644))

	profile := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(profile, []byte(testProfile), 0o644))

	t.Setenv("PORT", "8080")
	t.Setenv("TRANSACTION_SOURCE", "csv")
	t.Setenv("TRANSACTIONS_CSV", csvPath)
	t.Setenv("ARTIFACT_BACKEND", "fs")
	t.Setenv("ARTIFACT_DIR", filepath.Join(dir, "models"))
	t.Setenv("PREDICTION_STORE", "sqlite")
	t.Setenv("SQLITE_DB_PATH", filepath.Join(dir, "forecaster.db"))
	t.Setenv("PREDICTION_MODE", "global")
	t.Setenv("TRAINING_PROFILE", profile)
	t.Setenv("TRAIN_WORKERS", "2")
	t.Setenv("AMQP_URL", "")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(zerolog.Nop())
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTrainPredictFlow(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "predict", "--entity", "acc1", "--category", "Groceries", "--budget-remaining", "100")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no forecast available")

	out, err = run(t, "train", "--category", "Groceries")
	require.NoError(t, err)
	assert.Contains(t, out, "Trained GLOBAL_groceries (global mode")

	out, err = run(t, "predict", "--entity", "acc1", "--category", "Groceries", "--budget-remaining", "0.01")
	require.NoError(t, err)
	assert.Contains(t, out, "GLOBAL_groceries")
	assert.Contains(t, out, "risk level:       HIGH", "any positive forecast exceeds a near-zero budget")
	assert.Contains(t, out, civil.DateOf(time.Now()).String())

	_, err = run(t, "predict", "--entity", "acc1", "--category", "Groceries", "--mode", "team")
	assert.Error(t, err)
}

func TestBudgetsFlow(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "train", "--category", "Groceries")
	require.NoError(t, err)

	out, err := run(t, "budgets", "set", "--user", "acc1", "--category", "Groceries", "--amount", "400", "--start", "2024-05-01", "--end", "2024-05-31")
	require.NoError(t, err)
	assert.Contains(t, out, "acc1 Groceries 400.00 from 2024-05-01 to 2024-05-31")

	_, err = run(t, "budgets", "set", "--user", "acc1", "--category", "Travel", "--amount", "50")
	require.NoError(t, err)

	out, err = run(t, "budgets", "list", "--user", "acc1")
	require.NoError(t, err)
	assert.Contains(t, out, "Groceries")
	assert.Contains(t, out, "Travel")

	out, err = run(t, "predict-budgets", "--user", "acc1", "--horizon", "7d")
	require.NoError(t, err)
	assert.Contains(t, out, "Travel               not trained")
	assert.Contains(t, out, "of   400.00")

	_, err = run(t, "predict-budgets", "--user", "nobody")
	assert.Error(t, err)

	_, err = run(t, "predict-budgets", "--user", "acc1", "--horizon", "year")
	assert.Error(t, err)
}

func TestTrainAll(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "train-all", "--mode", "auto")
	require.NoError(t, err)
	assert.Contains(t, out, "Trained GLOBAL_groceries")
	assert.Contains(t, out, "Trained acc1_groceries")
	assert.Contains(t, out, "2 trained, 0 skipped")

	_, err = run(t, "train-all", "--publish")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AMQP_URL")
}

func TestParseBudget(t *testing.T) {
	today := civil.Date{Year: 2024, Month: 5, Day: 1}

	b, err := parseBudget("u1", "Groceries", "250.50", "", "", "", today)
	require.NoError(t, err)
	assert.Equal(t, "250.5", b.Amount.String())
	assert.Nil(t, b.Remaining)
	assert.Equal(t, today, b.StartDate)
	assert.Equal(t, civil.Date{Year: 2024, Month: 5, Day: 31}, b.EndDate)

	b, err = parseBudget("u1", "Groceries", "100", "40", "2024-06-01", "2024-06-15", today)
	require.NoError(t, err)
	require.NotNil(t, b.Remaining)
	assert.Equal(t, "40", b.Remaining.String())
	assert.Equal(t, civil.Date{Year: 2024, Month: 6, Day: 15}, b.EndDate)

	for _, bad := range [][]string{
		{"lots", "", "", ""},
		{"100", "some", "", ""},
		{"100", "", "June", ""},
		{"100", "", "", "2024-13-01"},
	} {
		_, err := parseBudget("u1", "Groceries", bad[0], bad[1], bad[2], bad[3], today)
		assert.Error(t, err, "%v", bad)
	}
}
