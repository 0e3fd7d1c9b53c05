package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/spend-forecaster/internal/artifacts"
	"github.com/rs/zerolog"
)

// Trainer fits and publishes model sets.
type Trainer struct {
	source Source
	store  artifacts.Store
	cfg    TrainConfig
	log    zerolog.Logger
	now    func() time.Time
}

// NewTrainer creates a trainer. cfg is used as given; callers validate it.
func NewTrainer(source Source, store artifacts.Store, cfg TrainConfig, log zerolog.Logger) *Trainer {
	return &Trainer{source: source, store: store, cfg: cfg, log: log, now: time.Now}
}

// TrainRequest identifies one training unit.
type TrainRequest struct {
	EntityID string // empty trains the global set for Category
	Category string
	LookBack int // zero uses the configured value
	Horizon  int // zero uses the configured value
}

// Prefix is the artifact prefix the request trains.
func (r TrainRequest) Prefix() string {
	if r.EntityID == "" {
		return GlobalPrefix(r.Category)
	}
	return UserPrefix(r.EntityID, r.Category)
}

// TrainReport summarizes a completed training run.
type TrainReport struct {
	Prefix            string     `json:"prefix"`
	Mode              Mode       `json:"mode"`
	Generation        string     `json:"generation"`
	Days              int        `json:"days"`
	Columns           []string   `json:"columns"`
	Windows           int        `json:"windows"`
	TrainWindows      int        `json:"train_windows"`
	ValidationWindows int        `json:"validation_windows"`
	TrainLoss         float64    `json:"train_loss"`
	ValidationLoss    float64    `json:"validation_loss"`
	ClassifierRows    int        `json:"classifier_rows"`
	ClassifierParams  TreeParams `json:"classifier_params"`
	Searched          bool       `json:"searched"`
	SearchScore       float64    `json:"search_score"`
	InjectedMinority  bool       `json:"injected_minority"`
}

// TrainModels trains the forecaster and risk classifier for one unit and
// publishes them as a single artifact set.
func (t *Trainer) TrainModels(ctx context.Context, req TrainRequest) (*TrainReport, error) {
	if req.Category == "" {
		return nil, fmt.Errorf("TrainModels: category is required")
	}
	lookBack, horizon := req.LookBack, req.Horizon
	if lookBack <= 0 {
		lookBack = t.cfg.LookBack
	}
	if horizon <= 0 {
		horizon = t.cfg.Horizon
	}

	mode, q := ModeGlobal, Query{Category: req.Category}
	if req.EntityID != "" {
		mode, q = ModeUser, Query{EntityID: req.EntityID}
	}
	report := &TrainReport{Prefix: req.Prefix(), Mode: mode}
	log := t.log.With().Str("prefix", report.Prefix).Str("mode", string(mode)).Logger()

	txns, err := t.source.Load(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("TrainModels: loading transactions: %w", err)
	}

	var frame *Frame
	if mode == ModeGlobal {
		frame = DailyByEntity(txns, req.Category)
	} else {
		frame = DailyByCategory(txns, req.EntityID)
	}
	if frame.Len() == 0 {
		return nil, fmt.Errorf("TrainModels: %s: %w", report.Prefix, ErrNoData)
	}
	targetIdx := -1
	if mode == ModeUser {
		if targetIdx = frame.Index(req.Category); targetIdx < 0 {
			return nil, fmt.Errorf("TrainModels: %s: %q: %w", report.Prefix, req.Category, ErrUnknownCategory)
		}
	}
	report.Days, report.Columns = frame.Len(), frame.Columns

	scaler, err := FitMinMax(frame.Values)
	if err != nil {
		return nil, fmt.Errorf("TrainModels: fitting scaler: %w", err)
	}
	scaled, err := scaler.Transform(frame.Values)
	if err != nil {
		return nil, fmt.Errorf("TrainModels: scaling: %w", err)
	}

	var (
		actual, target []float64
		targetScaler   *MinMaxScaler
	)
	if mode == ModeUser {
		actual = frame.Column(frame.Columns[targetIdx])
		if targetScaler, err = FitMinMaxColumn(actual); err != nil {
			return nil, fmt.Errorf("TrainModels: fitting target scaler: %w", err)
		}
		target = make([]float64, len(scaled))
		for r, row := range scaled {
			target[r] = row[targetIdx]
		}
	} else {
		actual = frame.RowMeans()
		target = (&Frame{Dates: frame.Dates, Columns: frame.Columns, Values: scaled}).RowMeans()
	}

	ds := Windows(scaled, target, lookBack, horizon)
	report.Windows = ds.Len()
	split := TrainSplit(ds.Len(), t.cfg.TrainFraction)
	if split == 0 {
		return nil, fmt.Errorf("TrainModels: %s: %d days give %d windows (look-back %d, horizon %d): %w",
			report.Prefix, frame.Len(), ds.Len(), lookBack, horizon, ErrInsufficientHistory)
	}
	report.TrainWindows, report.ValidationWindows = split, ds.Len()-split

	model := NewLSTM(frame.Width(), t.cfg.Hidden, t.cfg.Seed)
	history, err := model.Fit(ctx, ds.Slice(0, split), FitOptions{
		Epochs:       t.cfg.Epochs,
		BatchSize:    t.cfg.BatchSize,
		LearningRate: t.cfg.LearningRate,
	})
	if err != nil {
		return nil, fmt.Errorf("TrainModels: fitting forecaster: %w", err)
	}
	report.TrainLoss = history[len(history)-1]
	report.ValidationLoss = model.Loss(ds.Slice(split, ds.Len()))

	raw := model.PredictBatch(ds.X)
	preds := make([]float64, len(raw))
	for i, v := range raw {
		if mode == ModeUser {
			preds[i] = targetScaler.InverseValue(0, v)
		} else {
			preds[i] = scaler.InverseReplicated(v)
		}
	}

	x, y := BuildFeatures(frame.Dates, actual, preds, lookBack)
	if len(x) == 0 {
		return nil, fmt.Errorf("TrainModels: %s: no classifier rows after dropping incomplete days: %w",
			report.Prefix, ErrInsufficientHistory)
	}
	report.ClassifierRows = len(x)
	clf := t.fitClassifier(x, y, report, log)

	set := &ModelSet{
		Mode:         mode,
		Columns:      frame.Columns,
		LookBack:     lookBack,
		Horizon:      horizon,
		Forecaster:   model,
		Scaler:       scaler,
		TargetScaler: targetScaler,
		Classifier:   clf,
	}
	if mode == ModeUser {
		set.Target = frame.Columns[targetIdx]
	}
	if report.Generation, err = SaveModelSet(ctx, t.store, report.Prefix, set, t.now()); err != nil {
		return nil, fmt.Errorf("TrainModels: %w", err)
	}

	log.Info().
		Str("generation", report.Generation).
		Int("days", report.Days).
		Int("windows", report.Windows).
		Float64("train_loss", report.TrainLoss).
		Float64("validation_loss", report.ValidationLoss).
		Int("classifier_rows", report.ClassifierRows).
		Msg("Model set published")

	return report, nil
}

func (t *Trainer) fitClassifier(x [][]float64, y []float64, report *TrainReport, log zerolog.Logger) *Classifier {
	if singleClass(y) {
		// One flipped copy of the latest row gives the ensemble both classes.
		log.Warn().
			Float64("label", y[0]).
			Int("rows", len(y)).
			Msg("Risk labels are single-class, injecting a synthetic minority row")
		last := len(x) - 1
		x = append(x, append([]float64(nil), x[last]...))
		y = append(y, 1-y[last])
		report.InjectedMinority = true
		report.ClassifierParams = t.cfg.Fallback
		return FitClassifier(x, y, t.cfg.Fallback)
	}

	res, err := SearchClassifier(x, y, t.cfg.Grid, t.cfg.CVSplits, t.cfg.Fallback)
	if err != nil {
		if !errors.Is(err, ErrInsufficientHistory) {
			log.Warn().Err(err).Msg("Classifier search failed, using fallback parameters")
		}
		report.ClassifierParams = t.cfg.Fallback
		return FitClassifier(x, y, t.cfg.Fallback)
	}

	report.Searched = true
	report.SearchScore = res.Score
	report.ClassifierParams = res.Params
	return FitClassifier(x, y, res.Params)
}
