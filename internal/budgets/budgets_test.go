package budgets

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-forecaster/internal/domain"
	"github.com/dvloznov/spend-forecaster/internal/forecast"
	bq "github.com/dvloznov/spend-forecaster/internal/infra/bigquery"
	"github.com/dvloznov/spend-forecaster/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ BudgetRepository     = (*storage.SQLiteRepository)(nil)
	_ PredictionRepository = (*storage.SQLiteRepository)(nil)
	_ PredictionRepository = (*bq.PredictionRepository)(nil)
	_ Forecaster           = (*forecast.Predictor)(nil)
)

type fakeBudgets struct {
	list []domain.Budget
	err  error
}

func (f *fakeBudgets) ListBudgets(ctx context.Context, userID string) ([]domain.Budget, error) {
	return f.list, f.err
}

func (f *fakeBudgets) UpsertBudget(ctx context.Context, b domain.Budget) (domain.Budget, error) {
	f.list = append(f.list, b)
	return b, nil
}

type fakePredictions struct {
	mu   sync.Mutex
	rows map[string]domain.DailyPrediction
	err  error
}

func (f *fakePredictions) Replace(ctx context.Context, p domain.DailyPrediction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.rows == nil {
		f.rows = map[string]domain.DailyPrediction{}
	}
	f.rows[p.UserID+"|"+p.Category+"|"+p.PredictionDate.String()+"|"+p.TimeHorizon] = p
	return nil
}

func (f *fakePredictions) LatestForUser(ctx context.Context, userID string) ([]domain.DailyPrediction, error) {
	return nil, nil
}

// fakeForecaster answers per category: a prediction, ErrNotTrained, or an error.
type fakeForecaster struct {
	mu       sync.Mutex
	requests []forecast.Request
	fail     map[string]error
}

func (f *fakeForecaster) PredictNextDay(ctx context.Context, req forecast.Request) (*forecast.Prediction, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if err := f.fail[req.Category]; err != nil {
		return nil, err
	}
	next := civil.Date{Year: 2024, Month: 5, Day: 2}
	return &forecast.Prediction{
		PredictedAmount: 42,
		RiskProbability: 0.7,
		RiskLevel:       forecast.Classify(42, req.BudgetRemaining, 0.7),
		NextDayDate:     next,
		DayName:         forecast.DayName(next),
		DayIndex:        forecast.DayIndex(next),
		Rolling7Mean:    30,
	}, nil
}

func budgetList(categories ...string) []domain.Budget {
	var out []domain.Budget
	for _, c := range categories {
		out = append(out, domain.Budget{UserID: "u1", Category: c, Amount: decimal.NewFromInt(100)})
	}
	return out
}

func TestGenerateForUser_Outcomes(t *testing.T) {
	remaining := decimal.NewFromInt(10)
	list := budgetList("Food", "Fuel", "Rent")
	list[0].Remaining = &remaining

	fc := &fakeForecaster{fail: map[string]error{
		"Fuel": forecast.ErrNotTrained,
		"Rent": errors.New("scaler width mismatch"),
	}}
	preds := &fakePredictions{}
	svc := NewService(&fakeBudgets{list: list}, preds, fc, 2, zerolog.Nop())

	res, err := svc.GenerateForUser(context.Background(), "u1", Horizon7d)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 3)

	assert.Equal(t, StatusOK, res.Outcomes[0].Status)
	assert.Equal(t, StatusNotTrained, res.Outcomes[1].Status)
	assert.Nil(t, res.Outcomes[1].Err, "not trained is not a failure")
	assert.Equal(t, StatusFailed, res.Outcomes[2].Status)
	assert.EqualError(t, res.Outcomes[2].Err, "scaler width mismatch")

	food := res.Outcomes[0].Prediction
	require.NotNil(t, food)
	assert.Equal(t, 10.0, food.BudgetRemaining)
	assert.Equal(t, "HIGH", food.RiskLevel)
	assert.Equal(t, "7d", food.TimeHorizon)
	assert.Equal(t, "Thursday", food.DayOfWeek)
	assert.Len(t, res.Predictions(), 1)
	assert.Len(t, preds.rows, 1)

	for _, req := range fc.requests {
		assert.Equal(t, 7, req.LookBack)
		assert.Equal(t, "u1", req.EntityID)
	}
}

func TestGenerateForUser_RerunReplaces(t *testing.T) {
	preds := &fakePredictions{}
	svc := NewService(&fakeBudgets{list: budgetList("Food", "Fuel")}, preds, &fakeForecaster{}, 4, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := svc.GenerateForUser(context.Background(), "u1", Horizon30d)
		require.NoError(t, err)
	}
	assert.Len(t, preds.rows, 2)
}

func TestGenerateForUser_StoreFailureIsReported(t *testing.T) {
	preds := &fakePredictions{err: errors.New("disk full")}
	svc := NewService(&fakeBudgets{list: budgetList("Food")}, preds, &fakeForecaster{}, 1, zerolog.Nop())

	res, err := svc.GenerateForUser(context.Background(), "u1", Horizon30d)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Outcomes[0].Status)
	assert.Contains(t, res.Outcomes[0].Error, "disk full")
}

func TestGenerateForUser_NoBudgets(t *testing.T) {
	svc := NewService(&fakeBudgets{}, nil, &fakeForecaster{}, 1, zerolog.Nop())
	_, err := svc.GenerateForUser(context.Background(), "u1", Horizon30d)
	assert.ErrorIs(t, err, ErrNoBudgets)
}

func TestGenerateForUser_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := NewService(&fakeBudgets{list: budgetList("Food")}, nil, &fakeForecaster{}, 1, zerolog.Nop())

	_, err := svc.GenerateForUser(ctx, "u1", Horizon30d)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHorizon(t *testing.T) {
	tests := []struct {
		in       string
		lookBack int
		wantErr  bool
	}{
		{"", 30, false},
		{"7d", 7, false},
		{"30d", 30, false},
		{"90d", 90, false},
		{"calendar_month", 30, false},
		{"1y", 0, true},
	}
	for _, tt := range tests {
		h, err := ParseHorizon(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.lookBack, h.LookBack(), tt.in)
	}
	assert.Equal(t, 30, Horizon("weird").LookBack())
}

func TestSetBudget(t *testing.T) {
	repo := &fakeBudgets{}
	svc := NewService(repo, nil, &fakeForecaster{}, 1, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	start := civil.Date{Year: 2024, Month: 5, Day: 1}

	got, err := svc.SetBudget(context.Background(), domain.Budget{
		UserID: "u1", Category: "Food", Amount: decimal.NewFromInt(200), StartDate: start, EndDate: start.AddDays(30),
	})
	require.NoError(t, err)
	assert.Equal(t, svc.now(), got.UpdatedAt)

	_, err = svc.SetBudget(context.Background(), domain.Budget{UserID: "u1", Category: "Food", Amount: decimal.NewFromInt(-1)})
	assert.Error(t, err)
	_, err = svc.SetBudget(context.Background(), domain.Budget{UserID: "u1", Category: "Food", StartDate: start, EndDate: start.AddDays(-1)})
	assert.Error(t, err)
}

func TestGenerateForUser_WithSQLite(t *testing.T) {
	ctx := context.Background()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "b.db"))
	require.NoError(t, err)
	defer repo.Close()

	svc := NewService(repo, repo, &fakeForecaster{fail: map[string]error{"Fuel": forecast.ErrNotTrained}}, 2, zerolog.Nop())
	start := civil.Date{Year: 2024, Month: 5, Day: 1}
	for _, c := range []string{"Food", "Fuel"} {
		_, err := svc.SetBudget(ctx, domain.Budget{UserID: "u1", Category: c, Amount: decimal.NewFromInt(100), StartDate: start, EndDate: start.AddDays(30)})
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		_, err := svc.GenerateForUser(ctx, "u1", Horizon30d)
		require.NoError(t, err)
	}

	latest, err := svc.Latest(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "Food", latest[0].Category)
	assert.Equal(t, 42.0, latest[0].PredictedAmount)
}
