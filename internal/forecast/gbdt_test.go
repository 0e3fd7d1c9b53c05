package forecast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFitClassifier_LearnsThreshold(t *testing.T) {
	var x [][]float64
	var y []float64
	for i := 0; i < 60; i++ {
		v := float64(i)
		x = append(x, []float64{v, float64(i % 3)})
		if v >= 30 {
			y = append(y, 1)
		} else {
			y = append(y, 0)
		}
	}

	c := FitClassifier(x, y, TreeParams{NEstimators: 20, MaxDepth: 2, LearningRate: 0.3, Lambda: 1, MinChildWeight: 1})
	assert.Len(t, c.Trees, 20)
	for i, row := range x {
		assert.Equal(t, int(y[i]), c.Predict(row), "row %d", i)
	}
	assert.Greater(t, c.PredictProba([]float64{55, 0}), 0.9)
	assert.Less(t, c.PredictProba([]float64{3, 0}), 0.1)

	root := c.Trees[0].Nodes[0]
	assert.False(t, root.Leaf)
	assert.Equal(t, 0, root.Feature)
	assert.Equal(t, 29.5, root.Threshold, "splits sit at midpoints")
}

func TestFitClassifier_BaseMarginFromPositiveRate(t *testing.T) {
	x := [][]float64{{1}, {1}, {1}, {1}}
	y := []float64{1, 0, 0, 0}

	c := FitClassifier(x, y, TreeParams{NEstimators: 0, MaxDepth: 3, LearningRate: 0.3, Lambda: 1, MinChildWeight: 1})
	assert.InDelta(t, 0.25, c.PredictProba([]float64{1}), 1e-9)
}

func TestFitClassifier_IdenticalFeaturesDoNotSplit(t *testing.T) {
	x := [][]float64{{2, 2}, {2, 2}, {2, 2}, {2, 2}, {2, 2}, {2, 2}}
	y := []float64{1, 0, 1, 0, 1, 0}

	c := FitClassifier(x, y, TreeParams{NEstimators: 3, MaxDepth: 4, LearningRate: 0.3, Lambda: 1, MinChildWeight: 1})
	for _, tree := range c.Trees {
		assert.Len(t, tree.Nodes, 1)
	}
	assert.InDelta(t, 0.5, c.PredictProba([]float64{2, 2}), 1e-9)
}
