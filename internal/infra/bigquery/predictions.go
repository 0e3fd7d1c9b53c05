package bigquery

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-forecaster/internal/domain"
)

type PredictionRow struct {
	ID     string `bigquery:"id"`      // REQUIRED
	UserID string `bigquery:"user_id"` // REQUIRED

	PredictionDate civil.Date `bigquery:"prediction_date"` // REQUIRED, partition column
	Category       string     `bigquery:"category"`        // REQUIRED

	DayOfWeek   string `bigquery:"day_of_week"`    // REQUIRED
	DayOfWeekID int64  `bigquery:"day_of_week_id"` // REQUIRED

	Rolling7DayAvg  float64 `bigquery:"rolling_7_day_avg"` // REQUIRED
	BudgetRemaining float64 `bigquery:"budget_remaining"`  // REQUIRED
	PredictedAmount float64 `bigquery:"predicted_amount"`  // REQUIRED
	RiskProbability float64 `bigquery:"risk_probability"`  // REQUIRED
	RiskLevel       string  `bigquery:"risk_level"`        // REQUIRED
	TimeHorizon     string  `bigquery:"time_horizon"`      // REQUIRED

	CreatedAt time.Time `bigquery:"created_at"` // REQUIRED
}

func newPredictionRow(p domain.DailyPrediction) *PredictionRow {
	return &PredictionRow{
		ID:              p.ID,
		UserID:          p.UserID,
		PredictionDate:  p.PredictionDate,
		Category:        p.Category,
		DayOfWeek:       p.DayOfWeek,
		DayOfWeekID:     int64(p.DayOfWeekID),
		Rolling7DayAvg:  p.Rolling7DayAvg,
		BudgetRemaining: p.BudgetRemaining,
		PredictedAmount: p.PredictedAmount,
		RiskProbability: p.RiskProbability,
		RiskLevel:       p.RiskLevel,
		TimeHorizon:     p.TimeHorizon,
		CreatedAt:       p.CreatedAt,
	}
}

func (r *PredictionRow) toDomain() domain.DailyPrediction {
	return domain.DailyPrediction{
		ID:              r.ID,
		UserID:          r.UserID,
		PredictionDate:  r.PredictionDate,
		Category:        r.Category,
		DayOfWeek:       r.DayOfWeek,
		DayOfWeekID:     int(r.DayOfWeekID),
		Rolling7DayAvg:  r.Rolling7DayAvg,
		BudgetRemaining: r.BudgetRemaining,
		PredictedAmount: r.PredictedAmount,
		RiskProbability: r.RiskProbability,
		RiskLevel:       r.RiskLevel,
		TimeHorizon:     r.TimeHorizon,
		CreatedAt:       r.CreatedAt,
	}
}
