package forecast

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// TreeParams are the boosting hyperparameters.
type TreeParams struct {
	NEstimators    int     `json:"n_estimators" yaml:"n_estimators"`
	MaxDepth       int     `json:"max_depth" yaml:"max_depth"`
	LearningRate   float64 `json:"learning_rate" yaml:"learning_rate"`
	Lambda         float64 `json:"lambda" yaml:"lambda"`
	MinChildWeight float64 `json:"min_child_weight" yaml:"min_child_weight"`
}

// minSplitGain is the smallest loss reduction that justifies a split.
const minSplitGain = 1e-6

type treeNode struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
}

// Tree is a regression tree stored as a flat node list; node 0 is the root.
type Tree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t Tree) eval(row []float64) float64 {
	n := t.Nodes[0]
	for !n.Leaf {
		if row[n.Feature] < n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Value
}

// Classifier is a gradient-boosted tree ensemble for binary labels with a
// logistic objective.
type Classifier struct {
	Params     TreeParams `json:"params"`
	BaseMargin float64    `json:"base_margin"`
	Trees      []Tree     `json:"trees"`
}

// FitClassifier trains on rows x with labels y in {0, 1}. Trees are grown
// depth-wise with exact greedy splits at midpoints between adjacent distinct
// feature values, using second-order gradient statistics.
func FitClassifier(x [][]float64, y []float64, p TreeParams) *Classifier {
	base := stat.Mean(y, nil)
	base = math.Min(math.Max(base, 1e-6), 1-1e-6)

	c := &Classifier{
		Params:     p,
		BaseMargin: math.Log(base / (1 - base)),
	}

	n := len(x)
	margin := make([]float64, n)
	for i := range margin {
		margin[i] = c.BaseMargin
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	for round := 0; round < p.NEstimators; round++ {
		for i := 0; i < n; i++ {
			prob := sigmoid(margin[i])
			grad[i] = prob - y[i]
			hess[i] = math.Max(prob*(1-prob), 1e-16)
		}
		b := &treeBuilder{x: x, grad: grad, hess: hess, params: p}
		b.grow(append([]int(nil), all...), 0)
		tree := Tree{Nodes: b.nodes}
		c.Trees = append(c.Trees, tree)

		for i := 0; i < n; i++ {
			margin[i] += tree.eval(x[i])
		}
	}
	return c
}

// Margin returns the raw log-odds score for one row.
func (c *Classifier) Margin(row []float64) float64 {
	m := c.BaseMargin
	for _, t := range c.Trees {
		m += t.eval(row)
	}
	return m
}

// PredictProba returns the probability of the positive class.
func (c *Classifier) PredictProba(row []float64) float64 {
	return sigmoid(c.Margin(row))
}

// Predict returns the hard label at the 0.5 threshold.
func (c *Classifier) Predict(row []float64) int {
	if c.PredictProba(row) > 0.5 {
		return 1
	}
	return 0
}

type treeBuilder struct {
	x          [][]float64
	grad, hess []float64
	params     TreeParams
	nodes      []treeNode
}

type split struct {
	ok        bool
	feature   int
	threshold float64
	gain      float64
}

func (b *treeBuilder) sums(idx []int) (g, h float64) {
	for _, i := range idx {
		g += b.grad[i]
		h += b.hess[i]
	}
	return g, h
}

func (b *treeBuilder) score(g, h float64) float64 {
	return g * g / (h + b.params.Lambda)
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	pos := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{})

	g, h := b.sums(idx)
	if depth < b.params.MaxDepth && len(idx) > 1 {
		if s := b.bestSplit(idx, g, h); s.ok {
			var left, right []int
			for _, i := range idx {
				if b.x[i][s.feature] < s.threshold {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			l := b.grow(left, depth+1)
			r := b.grow(right, depth+1)
			b.nodes[pos] = treeNode{Feature: s.feature, Threshold: s.threshold, Left: l, Right: r}
			return pos
		}
	}

	b.nodes[pos] = treeNode{Leaf: true, Value: -g / (h + b.params.Lambda) * b.params.LearningRate}
	return pos
}

func (b *treeBuilder) bestSplit(idx []int, g, h float64) split {
	best := split{}
	parent := b.score(g, h)
	sorted := append([]int(nil), idx...)

	for f := range b.x[idx[0]] {
		sort.SliceStable(sorted, func(a, c int) bool {
			return b.x[sorted[a]][f] < b.x[sorted[c]][f]
		})

		var gl, hl float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			gl += b.grad[i]
			hl += b.hess[i]

			v, next := b.x[i][f], b.x[sorted[k+1]][f]
			if v == next {
				continue
			}
			gr, hr := g-gl, h-hl
			if hl < b.params.MinChildWeight || hr < b.params.MinChildWeight {
				continue
			}
			gain := 0.5 * (b.score(gl, hl) + b.score(gr, hr) - parent)
			if gain > minSplitGain && gain > best.gain {
				best = split{ok: true, feature: f, threshold: (v + next) / 2, gain: gain}
			}
		}
	}
	return best
}
