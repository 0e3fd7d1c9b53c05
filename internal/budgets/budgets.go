// Package budgets turns a user's budgets into stored next-day risk predictions.
package budgets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/spend-forecaster/internal/domain"
	"github.com/dvloznov/spend-forecaster/internal/forecast"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrNoBudgets is returned when the user has no budgets to predict for.
var ErrNoBudgets = errors.New("no budgets found for this user")

// Horizon is the planning window a prediction run is made for.
type Horizon string

const (
	Horizon7d            Horizon = "7d"
	Horizon30d           Horizon = "30d"
	Horizon90d           Horizon = "90d"
	HorizonCalendarMonth Horizon = "calendar_month"
)

var lookBacks = map[Horizon]int{
	Horizon7d:            7,
	Horizon30d:           30,
	Horizon90d:           90,
	HorizonCalendarMonth: 30,
}

// ParseHorizon validates a horizon string. Empty selects 30d.
func ParseHorizon(s string) (Horizon, error) {
	if s == "" {
		return Horizon30d, nil
	}
	h := Horizon(s)
	if _, ok := lookBacks[h]; !ok {
		return "", fmt.Errorf("unknown time horizon %q", s)
	}
	return h, nil
}

// LookBack returns the inference window length for the horizon, 30 days for
// anything unrecognized.
func (h Horizon) LookBack() int {
	if n, ok := lookBacks[h]; ok {
		return n
	}
	return 30
}

type BudgetRepository interface {
	ListBudgets(ctx context.Context, userID string) ([]domain.Budget, error)
	UpsertBudget(ctx context.Context, b domain.Budget) (domain.Budget, error)
}

type PredictionRepository interface {
	Replace(ctx context.Context, p domain.DailyPrediction) error
	LatestForUser(ctx context.Context, userID string) ([]domain.DailyPrediction, error)
}

// Forecaster produces one next-day prediction.
type Forecaster interface {
	PredictNextDay(ctx context.Context, req forecast.Request) (*forecast.Prediction, error)
}

// Status classifies the result for one budget category.
type Status string

const (
	StatusOK         Status = "ok"
	StatusNotTrained Status = "not_trained"
	StatusFailed     Status = "failed"
)

// Outcome is the result for one budget. Prediction is set only for StatusOK;
// Err only for StatusFailed.
type Outcome struct {
	Category   string                  `json:"category"`
	Status     Status                  `json:"status"`
	Prediction *domain.DailyPrediction `json:"prediction,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Err        error                   `json:"-"`
}

// Result collects the outcomes of one run, in budget order.
type Result struct {
	UserID   string    `json:"user_id"`
	Horizon  Horizon   `json:"time_horizon"`
	Outcomes []Outcome `json:"outcomes"`
}

// Predictions returns the successful predictions.
func (r *Result) Predictions() []domain.DailyPrediction {
	var out []domain.DailyPrediction
	for _, o := range r.Outcomes {
		if o.Status == StatusOK {
			out = append(out, *o.Prediction)
		}
	}
	return out
}

// Count returns how many outcomes have status s.
func (r *Result) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

type Service struct {
	budgets     BudgetRepository
	predictions PredictionRepository
	forecaster  Forecaster
	workers     int
	log         zerolog.Logger
	now         func() time.Time
}

// NewService creates the service. predictions may be nil, in which case
// results are returned but not stored.
func NewService(budgets BudgetRepository, predictions PredictionRepository, forecaster Forecaster, workers int, log zerolog.Logger) *Service {
	return &Service{
		budgets:     budgets,
		predictions: predictions,
		forecaster:  forecaster,
		workers:     max(1, workers),
		log:         log,
		now:         time.Now,
	}
}

// GenerateForUser predicts the next day for every budget of the user, storing
// each successful prediction so reruns for the same day replace earlier rows.
// Categories without trained models are skipped; other failures are reported
// per category and do not stop the run.
func (s *Service) GenerateForUser(ctx context.Context, userID string, horizon Horizon) (*Result, error) {
	budgets, err := s.budgets.ListBudgets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("GenerateForUser: listing budgets: %w", err)
	}
	if len(budgets) == 0 {
		return nil, ErrNoBudgets
	}

	res := &Result{UserID: userID, Horizon: horizon, Outcomes: make([]Outcome, len(budgets))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, b := range budgets {
		g.Go(func() error {
			res.Outcomes[i] = s.predictBudget(gctx, b, horizon)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("GenerateForUser: %w", err)
	}

	s.log.Info().
		Str("user_id", userID).
		Str("time_horizon", string(horizon)).
		Int("ok", res.Count(StatusOK)).
		Int("not_trained", res.Count(StatusNotTrained)).
		Int("failed", res.Count(StatusFailed)).
		Msg("Budget predictions generated")
	return res, nil
}

func (s *Service) predictBudget(ctx context.Context, b domain.Budget, horizon Horizon) Outcome {
	log := s.log.With().Str("user_id", b.UserID).Str("category", b.Category).Logger()
	out := Outcome{Category: b.Category}

	remaining := b.RemainingOrAmount().InexactFloat64()
	pred, err := s.forecaster.PredictNextDay(ctx, forecast.Request{
		EntityID:        b.UserID,
		Category:        b.Category,
		BudgetRemaining: remaining,
		LookBack:        horizon.LookBack(),
	})
	if errors.Is(err, forecast.ErrNotTrained) {
		log.Debug().Msg("No trained models for budget category, skipping")
		out.Status = StatusNotTrained
		return out
	}
	if err != nil {
		return failed(out, log, err)
	}

	row := domain.DailyPrediction{
		ID:              uuid.NewString(),
		UserID:          b.UserID,
		PredictionDate:  pred.NextDayDate,
		Category:        b.Category,
		DayOfWeek:       pred.DayName,
		DayOfWeekID:     pred.DayIndex,
		Rolling7DayAvg:  pred.Rolling7Mean,
		BudgetRemaining: remaining,
		PredictedAmount: pred.PredictedAmount,
		RiskProbability: pred.RiskProbability,
		RiskLevel:       string(pred.RiskLevel),
		TimeHorizon:     string(horizon),
		CreatedAt:       s.now().UTC(),
	}
	if s.predictions != nil {
		if err := s.predictions.Replace(ctx, row); err != nil {
			return failed(out, log, fmt.Errorf("storing prediction: %w", err))
		}
	}

	out.Status = StatusOK
	out.Prediction = &row
	return out
}

func failed(out Outcome, log zerolog.Logger, err error) Outcome {
	log.Error().Err(err).Msg("Budget prediction failed")
	out.Status = StatusFailed
	out.Err = err
	out.Error = err.Error()
	return out
}

// Latest returns the most recent stored predictions for the user.
func (s *Service) Latest(ctx context.Context, userID string) ([]domain.DailyPrediction, error) {
	if s.predictions == nil {
		return nil, nil
	}
	return s.predictions.LatestForUser(ctx, userID)
}

// SetBudget creates or updates the user's budget for a category.
func (s *Service) SetBudget(ctx context.Context, b domain.Budget) (domain.Budget, error) {
	if b.UserID == "" || b.Category == "" {
		return domain.Budget{}, fmt.Errorf("SetBudget: user and category are required")
	}
	if b.Amount.IsNegative() {
		return domain.Budget{}, fmt.Errorf("SetBudget: amount must not be negative")
	}
	if b.EndDate.Before(b.StartDate) {
		return domain.Budget{}, fmt.Errorf("SetBudget: end date %s is before start date %s", b.EndDate, b.StartDate)
	}
	b.UpdatedAt = s.now().UTC()
	return s.budgets.UpsertBudget(ctx, b)
}
