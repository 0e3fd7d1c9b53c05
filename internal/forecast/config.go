package forecast

import (
	"fmt"
	"strings"
)

// TrainConfig holds every training hyperparameter. It is passed explicitly to
// the trainer; nothing is read from package state.
type TrainConfig struct {
	LookBack      int     `yaml:"look_back"`
	Horizon       int     `yaml:"horizon"`
	Hidden        int     `yaml:"hidden"`
	Epochs        int     `yaml:"epochs"`
	BatchSize     int     `yaml:"batch_size"`
	LearningRate  float64 `yaml:"learning_rate"`
	TrainFraction float64 `yaml:"train_fraction"`
	Seed          int64   `yaml:"seed"`

	CVSplits int  `yaml:"cv_splits"`
	Grid     Grid `yaml:"grid"`
	// Fallback is used when labels are single-class or too few rows exist for the search.
	Fallback TreeParams `yaml:"fallback"`
}

// DefaultTrainConfig returns the production hyperparameters.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		LookBack:      30,
		Horizon:       1,
		Hidden:        96,
		Epochs:        15,
		BatchSize:     8,
		LearningRate:  0.001,
		TrainFraction: 0.9,
		Seed:          42,
		CVSplits:      3,
		Grid: Grid{
			NEstimators:  []int{50, 100},
			MaxDepth:     []int{3, 4},
			LearningRate: []float64{0.1, 0.05},
		},
		Fallback: TreeParams{
			NEstimators:    50,
			MaxDepth:       6,
			LearningRate:   0.3,
			Lambda:         1,
			MinChildWeight: 1,
		},
	}
}

// Validate reports every invalid field at once.
func (c TrainConfig) Validate() error {
	var errs []string
	if c.LookBack < 1 {
		errs = append(errs, fmt.Sprintf("look_back must be positive, got %d", c.LookBack))
	}
	if c.Horizon < 1 {
		errs = append(errs, fmt.Sprintf("horizon must be positive, got %d", c.Horizon))
	}
	if c.Hidden < 1 {
		errs = append(errs, fmt.Sprintf("hidden must be positive, got %d", c.Hidden))
	}
	if c.Epochs < 1 {
		errs = append(errs, fmt.Sprintf("epochs must be positive, got %d", c.Epochs))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Sprintf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.LearningRate <= 0 {
		errs = append(errs, "learning_rate must be positive")
	}
	if c.TrainFraction <= 0 || c.TrainFraction > 1 {
		errs = append(errs, fmt.Sprintf("train_fraction must be in (0, 1], got %g", c.TrainFraction))
	}
	if c.CVSplits < 2 {
		errs = append(errs, fmt.Sprintf("cv_splits must be at least 2, got %d", c.CVSplits))
	}
	if len(c.Grid.NEstimators) == 0 || len(c.Grid.MaxDepth) == 0 || len(c.Grid.LearningRate) == 0 {
		errs = append(errs, "grid must list at least one value per parameter")
	}
	if c.Fallback.NEstimators < 1 || c.Fallback.MaxDepth < 1 {
		errs = append(errs, "fallback classifier needs positive n_estimators and max_depth")
	}
	if len(errs) > 0 {
		return fmt.Errorf("training configuration invalid:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
