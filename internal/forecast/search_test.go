package forecast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeSeriesFolds(t *testing.T) {
	folds, err := TimeSeriesFolds(10, 3)
	require.NoError(t, err)
	assert.Equal(t, []Fold{{TrainEnd: 4, TestEnd: 6}, {TrainEnd: 6, TestEnd: 8}, {TrainEnd: 8, TestEnd: 10}}, folds)

	folds, err = TimeSeriesFolds(4, 3)
	require.NoError(t, err)
	assert.Equal(t, []Fold{{1, 2}, {2, 3}, {3, 4}}, folds)

	_, err = TimeSeriesFolds(3, 3)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestGridCandidatesOrder(t *testing.T) {
	got := DefaultTrainConfig().Grid.Candidates(TreeParams{Lambda: 1})
	require.Len(t, got, 8)
	assert.Equal(t, TreeParams{NEstimators: 50, MaxDepth: 3, LearningRate: 0.1, Lambda: 1}, got[0])
	assert.Equal(t, TreeParams{NEstimators: 100, MaxDepth: 3, LearningRate: 0.1, Lambda: 1}, got[1])
	assert.Equal(t, TreeParams{NEstimators: 50, MaxDepth: 4, LearningRate: 0.1, Lambda: 1}, got[2])
	assert.Equal(t, 0.05, got[4].LearningRate)
}

func TestF1(t *testing.T) {
	// tp=1 fp=1 fn=1
	assert.InDelta(t, 0.5, F1([]float64{1, 1, 0, 0}, []int{1, 0, 1, 0}), 1e-12)
	// tp=2 fp=1 fn=1
	assert.InDelta(t, 2.0/3.0, F1([]float64{1, 1, 1, 0, 0}, []int{1, 1, 0, 1, 0}), 1e-12)
	assert.Equal(t, 1.0, F1([]float64{1, 0}, []int{1, 0}))
	assert.Equal(t, 0.0, F1([]float64{0, 0}, []int{0, 0}))
}

func TestSearchClassifier_PrefersFirstOnTies(t *testing.T) {
	var x [][]float64
	var y []float64
	for i := 0; i < 40; i++ {
		x = append(x, []float64{float64(i % 2)})
		y = append(y, float64(i%2))
	}

	grid := Grid{NEstimators: []int{2, 4}, MaxDepth: []int{1}, LearningRate: []float64{0.3}}
	res, err := SearchClassifier(x, y, grid, 3, TreeParams{Lambda: 1, MinChildWeight: 0.1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, 2, res.Params.NEstimators)
	assert.Len(t, res.Scores, 2)
}
