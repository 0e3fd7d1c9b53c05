package bigquery

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-forecaster/internal/domain"
	"github.com/dvloznov/spend-forecaster/internal/forecast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTransactionQuery(t *testing.T) {
	sql, params, err := buildTransactionQuery("finance", "user_id", forecast.Query{EntityID: "u1", Category: "Food"})
	require.NoError(t, err)

	assert.Contains(t, sql, "FROM finance.transactions t")
	assert.Contains(t, sql, "pr.status = 'SUCCESS'")
	assert.Contains(t, sql, "AND t.user_id = @entity_id")
	assert.Contains(t, sql, "LOWER(TRIM(@category))")
	require.Len(t, params, 2)
	assert.Equal(t, "u1", params[0].Value)
	assert.Equal(t, "Food", params[1].Value)

	sql, params, err = buildTransactionQuery("finance", "account_id", forecast.Query{})
	require.NoError(t, err)
	assert.NotContains(t, sql, "@entity_id")
	assert.Empty(t, params)

	_, _, err = buildTransactionQuery("finance", "1=1; DROP TABLE x", forecast.Query{EntityID: "u"})
	assert.Error(t, err)
}

func TestTransactionRow_ToDomain(t *testing.T) {
	date := civil.Date{Year: 2024, Month: 2, Day: 3}
	tests := []struct {
		name      string
		row       TransactionRow
		column    string
		wantType  domain.TxnType
		wantSpend float64
		wantID    string
	}{
		{
			name:      "negative amount without direction",
			row:       TransactionRow{AccountID: bigquery.NullString{StringVal: "a1", Valid: true}, Amount: big.NewRat(-2550, 100)},
			column:    "account_id",
			wantType:  domain.TxnDebit,
			wantSpend: 25.5,
			wantID:    "a1",
		},
		{
			name:      "positive amount without direction",
			row:       TransactionRow{Amount: big.NewRat(900, 1)},
			column:    "account_id",
			wantType:  domain.TxnCredit,
			wantSpend: 0,
		},
		{
			name: "explicit outflow",
			row: TransactionRow{
				UserID:    bigquery.NullString{StringVal: "u7", Valid: true},
				Amount:    big.NewRat(12, 1),
				Direction: bigquery.NullString{StringVal: "out", Valid: true},
			},
			column:    "user_id",
			wantType:  domain.TxnDebit,
			wantSpend: 12,
			wantID:    "u7",
		},
		{
			name: "explicit inflow with negative sign",
			row: TransactionRow{
				Amount:    big.NewRat(-5, 1),
				Direction: bigquery.NullString{StringVal: "IN", Valid: true},
			},
			column:   "account_id",
			wantType: domain.TxnCredit,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.row.TransactionDate = date
			got := tt.row.ToDomain(tt.column)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantSpend, got.Spend())
			assert.Equal(t, tt.wantID, got.EntityID)
			assert.Equal(t, date, got.Date)
		})
	}
}

func TestReplaceScript(t *testing.T) {
	sql := replaceScript("finance")
	begin := strings.Index(sql, "BEGIN TRANSACTION")
	del := strings.Index(sql, "DELETE FROM finance.daily_predictions")
	ins := strings.Index(sql, "INSERT INTO finance.daily_predictions")
	commit := strings.Index(sql, "COMMIT TRANSACTION")
	assert.True(t, begin >= 0 && begin < del && del < ins && ins < commit)

	params := replaceParams(newPredictionRow(domain.DailyPrediction{ID: "x", UserID: "u"}))
	for _, p := range params {
		assert.Contains(t, sql, "@"+p.Name)
	}
}

func TestPredictionRow_RoundTrip(t *testing.T) {
	in := domain.DailyPrediction{
		ID:              "id1",
		UserID:          "u1",
		PredictionDate:  civil.Date{Year: 2024, Month: 5, Day: 2},
		Category:        "Food",
		DayOfWeek:       "Thursday",
		DayOfWeekID:     3,
		Rolling7DayAvg:  12.5,
		BudgetRemaining: 80,
		PredictedAmount: 14.2,
		RiskProbability: 0.31,
		RiskLevel:       "LOW",
		TimeHorizon:     "30d",
		CreatedAt:       time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, in, newPredictionRow(in).toDomain())

	schema, err := bigquery.InferSchema(PredictionRow{})
	require.NoError(t, err)
	fields := map[string]bigquery.FieldType{}
	for _, f := range schema {
		fields[f.Name] = f.Type
	}
	assert.Equal(t, bigquery.DateFieldType, fields["prediction_date"])
	assert.Equal(t, bigquery.TimestampFieldType, fields["created_at"])
}

func TestLatestQuery(t *testing.T) {
	sql := latestQuery("finance")
	assert.Contains(t, sql, "PARTITION BY category ORDER BY prediction_date DESC")
	assert.Contains(t, sql, "@user_id")
}
