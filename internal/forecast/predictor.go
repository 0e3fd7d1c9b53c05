package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-forecaster/internal/artifacts"
	"github.com/rs/zerolog"
)

// Request asks for a next-day forecast for one entity and category.
type Request struct {
	EntityID        string
	Category        string
	BudgetRemaining float64
	LookBack        int  // zero uses the look-back the set was trained with
	Mode            Mode // empty uses the predictor default
}

// Prediction is the next-day risk report.
type Prediction struct {
	PredictedAmount float64    `json:"predicted_amount"`
	RiskProbability float64    `json:"risk_probability"`
	RiskLevel       RiskLevel  `json:"risk_level"`
	NextDayDate     civil.Date `json:"prediction_date"`
	DayName         string     `json:"day_of_week"`
	DayIndex        int        `json:"day_of_week_id"`
	Rolling7Mean    float64    `json:"rolling_7_day_avg"`
	Rolling7Std     float64    `json:"rolling_7_day_std"`
	Prefix          string     `json:"model_prefix"`
	Mode            Mode       `json:"mode"`
	// Degenerate marks the zero forecast returned when there is nothing to window.
	Degenerate bool `json:"degenerate,omitempty"`
}

// Predictor produces next-day forecasts from published model sets. Artifacts
// and transactions are read on every call, so it holds no per-prefix state and
// is safe for concurrent use.
type Predictor struct {
	source Source
	store  artifacts.Store
	mode   Mode
	log    zerolog.Logger
	now    func() time.Time
}

// PredictorOption configures a Predictor.
type PredictorOption func(*Predictor)

// WithDefaultMode sets the mode used when a request leaves it empty.
func WithDefaultMode(m Mode) PredictorOption {
	return func(p *Predictor) { p.mode = m }
}

// WithClock overrides the wall clock used for "today".
func WithClock(now func() time.Time) PredictorOption {
	return func(p *Predictor) { p.now = now }
}

// NewPredictor creates a predictor defaulting to global mode.
func NewPredictor(source Source, store artifacts.Store, log zerolog.Logger, opts ...PredictorOption) *Predictor {
	p := &Predictor{source: source, store: store, mode: ModeGlobal, log: log, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PredictNextDay forecasts tomorrow's spend and its risk level. An untrained
// unit returns an error wrapping ErrNotTrained.
func (p *Predictor) PredictNextDay(ctx context.Context, req Request) (*Prediction, error) {
	if req.Category == "" || req.EntityID == "" {
		return nil, fmt.Errorf("PredictNextDay: entity and category are required")
	}
	mode := req.Mode
	if mode == "" {
		mode = p.mode
	}

	switch mode {
	case ModeGlobal:
		return p.predictGlobal(ctx, req)
	case ModeUser:
		return p.predictUser(ctx, req)
	case ModeAuto:
		pred, err := p.predictUser(ctx, req)
		if errors.Is(err, ErrNotTrained) {
			p.log.Debug().
				Str("entity_id", req.EntityID).
				Str("category", req.Category).
				Msg("No per-user model, falling back to global")
			return p.predictGlobal(ctx, req)
		}
		return pred, err
	}
	return nil, fmt.Errorf("PredictNextDay: unknown mode %q", mode)
}

func (p *Predictor) today() civil.Date {
	return civil.DateOf(p.now())
}

func lookBackFor(req Request, set *ModelSet) int {
	if req.LookBack > 0 {
		return req.LookBack
	}
	return set.LookBack
}

func (p *Predictor) predictGlobal(ctx context.Context, req Request) (*Prediction, error) {
	prefix := GlobalPrefix(req.Category)
	set, err := LoadModelSet(ctx, p.store, prefix, ModeGlobal)
	if err != nil {
		return nil, err
	}

	txns, err := p.source.Load(ctx, Query{Category: req.Category})
	if err != nil {
		return nil, fmt.Errorf("predictGlobal: loading transactions: %w", err)
	}
	frame := DailyByEntity(txns, req.Category)
	today := p.today()
	if frame.Index(req.EntityID) < 0 {
		return p.degenerate(prefix, ModeGlobal, today), nil
	}

	window := LookBack(frame, set.Columns, lookBackFor(req, set), today)
	if window.Width() == 0 {
		return p.degenerate(prefix, ModeGlobal, today), nil
	}
	scaled, err := set.Scaler.Transform(window.Values)
	if err != nil {
		return nil, fmt.Errorf("predictGlobal: %s: %w", prefix, err)
	}
	amount := set.Scaler.InverseReplicated(set.Forecaster.Predict(scaled))

	next := today.AddDays(1)
	if last, ok := frame.LastDate(); ok {
		next = last.AddDays(1)
	}
	mean, std := LatestRollingStats(frame.Column(req.EntityID))
	return p.finish(set, req, prefix, ModeGlobal, amount, next, mean, std), nil
}

func (p *Predictor) predictUser(ctx context.Context, req Request) (*Prediction, error) {
	prefix := UserPrefix(req.EntityID, req.Category)
	set, err := LoadModelSet(ctx, p.store, prefix, ModeUser)
	if err != nil {
		return nil, err
	}

	txns, err := p.source.Load(ctx, Query{EntityID: req.EntityID})
	if err != nil {
		return nil, fmt.Errorf("predictUser: loading transactions: %w", err)
	}
	frame := DailyByCategory(txns, req.EntityID)
	today := p.today()
	if frame.Index(req.Category) < 0 {
		return p.degenerate(prefix, ModeUser, today), nil
	}

	window := LookBack(frame, set.Columns, lookBackFor(req, set), today)
	if window.Width() == 0 {
		return p.degenerate(prefix, ModeUser, today), nil
	}
	scaled, err := set.Scaler.Transform(window.Values)
	if err != nil {
		return nil, fmt.Errorf("predictUser: %s: %w", prefix, err)
	}
	amount := set.TargetScaler.InverseValue(0, set.Forecaster.Predict(scaled))

	last, _ := frame.LastDate()
	mean, std := LatestRollingStats(frame.Column(req.Category))
	return p.finish(set, req, prefix, ModeUser, amount, last.AddDays(1), mean, std), nil
}

func (p *Predictor) finish(set *ModelSet, req Request, prefix string, mode Mode, amount float64, next civil.Date, mean, std float64) *Prediction {
	prob := set.Classifier.PredictProba(FeatureVector(next, mean, std, amount))
	return &Prediction{
		PredictedAmount: amount,
		RiskProbability: prob,
		RiskLevel:       Classify(amount, req.BudgetRemaining, prob),
		NextDayDate:     next,
		DayName:         DayName(next),
		DayIndex:        DayIndex(next),
		Rolling7Mean:    mean,
		Rolling7Std:     std,
		Prefix:          prefix,
		Mode:            mode,
	}
}

func (p *Predictor) degenerate(prefix string, mode Mode, today civil.Date) *Prediction {
	next := today.AddDays(1)
	return &Prediction{
		RiskLevel:   RiskLow,
		NextDayDate: next,
		DayName:     DayName(next),
		DayIndex:    DayIndex(next),
		Prefix:      prefix,
		Mode:        mode,
		Degenerate:  true,
	}
}
