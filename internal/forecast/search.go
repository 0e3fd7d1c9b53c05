package forecast

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Grid is the classifier hyperparameter search space.
type Grid struct {
	NEstimators  []int     `yaml:"n_estimators"`
	MaxDepth     []int     `yaml:"max_depth"`
	LearningRate []float64 `yaml:"learning_rate"`
}

// Candidates expands the grid. Learning rate varies slowest and the number of
// trees fastest; ties in scoring go to the earlier candidate.
func (g Grid) Candidates(base TreeParams) []TreeParams {
	var out []TreeParams
	for _, lr := range g.LearningRate {
		for _, depth := range g.MaxDepth {
			for _, n := range g.NEstimators {
				p := base
				p.LearningRate, p.MaxDepth, p.NEstimators = lr, depth, n
				out = append(out, p)
			}
		}
	}
	return out
}

// Fold is one chronological split: train on [0, TrainEnd), test on [TrainEnd, TestEnd).
type Fold struct {
	TrainEnd int
	TestEnd  int
}

// TimeSeriesFolds returns expanding-window folds with equal test sizes that
// end at the last row. It needs at least splits+1 rows.
func TimeSeriesFolds(n, splits int) ([]Fold, error) {
	if splits < 2 {
		return nil, fmt.Errorf("TimeSeriesFolds: need at least 2 splits, got %d", splits)
	}
	if n < splits+1 {
		return nil, fmt.Errorf("TimeSeriesFolds: %d rows cannot make %d folds: %w", n, splits, ErrInsufficientHistory)
	}
	testSize := n / (splits + 1)
	folds := make([]Fold, 0, splits)
	for start := n - splits*testSize; start < n; start += testSize {
		folds = append(folds, Fold{TrainEnd: start, TestEnd: start + testSize})
	}
	return folds, nil
}

// F1 scores hard predictions against labels for the positive class.
// An undefined score (no predicted and no actual positives) is zero.
func F1(yTrue []float64, yPred []int) float64 {
	var tp, fp, fn float64
	for i, y := range yTrue {
		actual := y > 0.5
		predicted := yPred[i] == 1
		switch {
		case actual && predicted:
			tp++
		case predicted:
			fp++
		case actual:
			fn++
		}
	}
	if tp == 0 {
		return 0
	}
	return 2 * tp / (2*tp + fp + fn)
}

// SearchResult reports the chosen parameters and the mean fold score of every candidate.
type SearchResult struct {
	Params TreeParams   `json:"params"`
	Score  float64      `json:"score"`
	Scores []float64    `json:"scores"`
	Tried  []TreeParams `json:"-"`
}

// SearchClassifier grid-searches the classifier with chronological folds and F1 scoring.
func SearchClassifier(x [][]float64, y []float64, grid Grid, splits int, base TreeParams) (SearchResult, error) {
	folds, err := TimeSeriesFolds(len(x), splits)
	if err != nil {
		return SearchResult{}, err
	}
	candidates := grid.Candidates(base)
	if len(candidates) == 0 {
		return SearchResult{}, fmt.Errorf("SearchClassifier: empty grid")
	}

	res := SearchResult{Tried: candidates, Scores: make([]float64, len(candidates))}
	bestIdx := -1
	for ci, p := range candidates {
		scores := make([]float64, len(folds))
		for fi, fold := range folds {
			model := FitClassifier(x[:fold.TrainEnd], y[:fold.TrainEnd], p)
			preds := make([]int, 0, fold.TestEnd-fold.TrainEnd)
			for _, row := range x[fold.TrainEnd:fold.TestEnd] {
				preds = append(preds, model.Predict(row))
			}
			scores[fi] = F1(y[fold.TrainEnd:fold.TestEnd], preds)
		}
		res.Scores[ci] = stat.Mean(scores, nil)
		if bestIdx < 0 || res.Scores[ci] > res.Scores[bestIdx] {
			bestIdx = ci
		}
	}

	res.Params = candidates[bestIdx]
	res.Score = res.Scores[bestIdx]
	return res, nil
}
