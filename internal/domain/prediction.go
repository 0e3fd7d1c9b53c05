package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Budget is a spending allowance for one category of one user.
type Budget struct {
	ID        string
	UserID    string
	Category  string
	Amount    decimal.Decimal
	Remaining *decimal.Decimal // nil until the first spend is booked
	StartDate civil.Date
	EndDate   civil.Date
	UpdatedAt time.Time
}

// RemainingOrAmount returns the remaining allowance, falling back to the full
// amount for budgets that have not been drawn down yet.
func (b Budget) RemainingOrAmount() decimal.Decimal {
	if b.Remaining != nil {
		return *b.Remaining
	}
	return b.Amount
}

// DailyPrediction is a stored next-day forecast for one user and category.
// (UserID, Category, PredictionDate, TimeHorizon) identifies a row; writers
// replace rather than duplicate.
type DailyPrediction struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	PredictionDate  civil.Date `json:"prediction_date"`
	Category        string     `json:"category"`
	DayOfWeek       string     `json:"day_of_week"`
	DayOfWeekID     int        `json:"day_of_week_id"`
	Rolling7DayAvg  float64    `json:"rolling_7_day_avg"`
	BudgetRemaining float64    `json:"budget_remaining"`
	PredictedAmount float64    `json:"predicted_amount"`
	RiskProbability float64    `json:"risk_probability"`
	RiskLevel       string     `json:"risk_level"`
	TimeHorizon     string     `json:"time_horizon"`
	CreatedAt       time.Time  `json:"created_at"`
}
