package forecast

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-forecaster/internal/artifacts"
	"github.com/dvloznov/spend-forecaster/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type predictorFixture struct {
	txns  []domain.Transaction
	store *artifacts.MemoryStore
	pred  *Predictor
}

func newPredictorFixture(t *testing.T, train ...TrainRequest) *predictorFixture {
	t.Helper()
	txns := spendHistory([]string{"u1", "u2", "u3"}, []string{"Food", "Fuel"}, 120, 9)
	tr, store := newTestTrainer(txns)
	for _, req := range train {
		_, err := tr.TrainModels(context.Background(), req)
		require.NoError(t, err)
	}
	return &predictorFixture{
		txns:  txns,
		store: store,
		pred:  NewPredictor(StaticSource(txns), store, zerolog.Nop(), WithClock(func() time.Time { return fixedNow })),
	}
}

func TestPredictNextDay_Global(t *testing.T) {
	f := newPredictorFixture(t, TrainRequest{Category: "Food"})
	ctx := context.Background()

	got, err := f.pred.PredictNextDay(ctx, Request{EntityID: "u2", Category: "Food", BudgetRemaining: 1e9})
	require.NoError(t, err)

	frame := DailyByEntity(f.txns, "Food")
	last, _ := frame.LastDate()
	assert.Equal(t, last.AddDays(1), got.NextDayDate)
	assert.Equal(t, DayIndex(got.NextDayDate), got.DayIndex)
	assert.Equal(t, DayName(got.NextDayDate), got.DayName)
	assert.Equal(t, "GLOBAL_food", got.Prefix)
	assert.Equal(t, ModeGlobal, got.Mode)
	assert.False(t, got.Degenerate)
	assert.Greater(t, got.RiskProbability, 0.0)
	assert.Less(t, got.RiskProbability, 1.0)

	mean, std := LatestRollingStats(frame.Column("u2"))
	assert.Equal(t, mean, got.Rolling7Mean)
	assert.Equal(t, std, got.Rolling7Std)
	assert.Equal(t, Classify(got.PredictedAmount, 1e9, got.RiskProbability), got.RiskLevel)
}

func TestPredictNextDay_Idempotent(t *testing.T) {
	f := newPredictorFixture(t, TrainRequest{Category: "Food"})
	req := Request{EntityID: "u1", Category: "Food", BudgetRemaining: 50}

	first, err := f.pred.PredictNextDay(context.Background(), req)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*Prediction, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = f.pred.PredictNextDay(context.Background(), req)
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, first, r)
	}
}

func TestPredictNextDay_OverBudgetIsHigh(t *testing.T) {
	f := newPredictorFixture(t, TrainRequest{Category: "Food"})
	ctx := context.Background()

	base, err := f.pred.PredictNextDay(ctx, Request{EntityID: "u1", Category: "Food", BudgetRemaining: 1e9})
	require.NoError(t, err)

	got, err := f.pred.PredictNextDay(ctx, Request{EntityID: "u1", Category: "Food", BudgetRemaining: base.PredictedAmount - 1})
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, got.RiskLevel)
	assert.Equal(t, base.PredictedAmount, got.PredictedAmount)
}

func TestPredictNextDay_NotTrained(t *testing.T) {
	f := newPredictorFixture(t)
	for _, mode := range []Mode{ModeGlobal, ModeUser, ModeAuto} {
		_, err := f.pred.PredictNextDay(context.Background(), Request{EntityID: "u1", Category: "Food", Mode: mode})
		assert.ErrorIs(t, err, ErrNotTrained, "mode %s", mode)
	}
}

func TestPredictNextDay_EntityWithoutTransactions(t *testing.T) {
	f := newPredictorFixture(t, TrainRequest{Category: "Food"})

	got, err := f.pred.PredictNextDay(context.Background(), Request{EntityID: "nobody", Category: "Food"})
	require.NoError(t, err)
	assert.True(t, got.Degenerate)
	assert.Equal(t, 0.0, got.PredictedAmount)
	assert.Equal(t, 0.0, got.RiskProbability)
	assert.Equal(t, RiskLow, got.RiskLevel)
	assert.Equal(t, civil.Date{Year: 2024, Month: 5, Day: 2}, got.NextDayDate)
}

func TestPredictNextDay_AutoMode(t *testing.T) {
	f := newPredictorFixture(t, TrainRequest{Category: "Food"})
	ctx := context.Background()
	req := Request{EntityID: "u1", Category: "Food", Mode: ModeAuto, BudgetRemaining: 100}

	got, err := f.pred.PredictNextDay(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ModeGlobal, got.Mode)

	tr := NewTrainer(StaticSource(f.txns), f.store, testTrainConfig(), zerolog.Nop())
	_, err = tr.TrainModels(ctx, TrainRequest{EntityID: "u1", Category: "Food"})
	require.NoError(t, err)

	got, err = f.pred.PredictNextDay(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ModeUser, got.Mode)
	assert.Equal(t, "u1_food", got.Prefix)
}

func TestPredictNextDay_CategorySpellingMatchesTrainedSet(t *testing.T) {
	f := newPredictorFixture(t, TrainRequest{Category: "Food"}, TrainRequest{EntityID: "u1", Category: "Food"})
	ctx := context.Background()

	for _, mode := range []Mode{ModeGlobal, ModeUser} {
		t.Run(string(mode), func(t *testing.T) {
			want, err := f.pred.PredictNextDay(ctx, Request{EntityID: "u1", Category: "Food", Mode: mode, BudgetRemaining: 100})
			require.NoError(t, err)

			got, err := f.pred.PredictNextDay(ctx, Request{EntityID: "u1", Category: " food", Mode: mode, BudgetRemaining: 100})
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestPredictNextDay_PerUserSeesNewTransactions(t *testing.T) {
	f := newPredictorFixture(t, TrainRequest{EntityID: "u1", Category: "Food"})
	ctx := context.Background()
	req := Request{EntityID: "u1", Category: "Food", Mode: ModeUser, BudgetRemaining: 100}

	before, err := f.pred.PredictNextDay(ctx, req)
	require.NoError(t, err)

	frame := DailyByCategory(f.txns, "u1")
	last, _ := frame.LastDate()
	extra := append(append([]domain.Transaction(nil), f.txns...),
		domain.Transaction{EntityID: "u1", Date: last.AddDays(1), Amount: 400, Category: "Food"})
	p := NewPredictor(StaticSource(extra), f.store, zerolog.Nop(), WithClock(func() time.Time { return fixedNow }))

	after, err := p.PredictNextDay(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, last.AddDays(2), after.NextDayDate)
	assert.NotEqual(t, before.Rolling7Mean, after.Rolling7Mean)
}

func TestPrediction_JSONFields(t *testing.T) {
	p := Prediction{NextDayDate: civil.Date{Year: 2024, Month: 5, Day: 2}, RiskLevel: RiskModerate}
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "2024-05-02", m["prediction_date"])
	assert.Equal(t, "MODERATE", m["risk_level"])
	assert.NotContains(t, m, "degenerate")
}
