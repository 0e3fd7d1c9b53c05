package forecast

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LSTM is a single-layer recurrent network feeding one linear output unit.
// Gate blocks are laid out input, forget, cell, output; each block is Hidden rows.
type LSTM struct {
	InputSize int       `json:"input_size"`
	Hidden    int       `json:"hidden"`
	Wx        []float64 `json:"wx"` // 4H × InputSize, row-major
	Wh        []float64 `json:"wh"` // 4H × H, row-major
	B         []float64 `json:"b"`  // 4H
	Wy        []float64 `json:"wy"` // H
	By        []float64 `json:"by"` // 1
}

// NewLSTM initializes weights deterministically from seed: Glorot-uniform input
// and output kernels, an orthogonal recurrent kernel and a forget-gate bias of one.
func NewLSTM(inputSize, hidden int, seed int64) *LSTM {
	rng := rand.New(rand.NewSource(seed))
	gates := 4 * hidden

	m := &LSTM{
		InputSize: inputSize,
		Hidden:    hidden,
		Wx:        glorotUniform(gates*inputSize, inputSize, gates, rng),
		Wh:        orthogonal(gates, hidden, rng),
		B:         make([]float64, gates),
		Wy:        glorotUniform(hidden, hidden, 1, rng),
		By:        make([]float64, 1),
	}
	for k := hidden; k < 2*hidden; k++ {
		m.B[k] = 1
	}
	return m
}

func glorotUniform(n, fanIn, fanOut int, rng *rand.Rand) []float64 {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	out := make([]float64, n)
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * limit
	}
	return out
}

// orthogonal returns a rows×cols matrix (rows >= cols) with orthonormal columns.
func orthogonal(rows, cols int, rng *rand.Rand) []float64 {
	a := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}

	var qr mat.QR
	qr.Factorize(a)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	out := make([]float64, rows*cols)
	for j := 0; j < cols; j++ {
		sign := 1.0
		if r.At(j, j) < 0 {
			sign = -1
		}
		for i := 0; i < rows; i++ {
			out[i*cols+j] = q.At(i, j) * sign
		}
	}
	return out
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// step caches one timestep of the forward pass for backpropagation.
type step struct {
	x, hPrev, cPrev []float64
	i, f, g, o      []float64
	c, tc           []float64
}

func (m *LSTM) forward(seq [][]float64) (float64, []step) {
	H := m.Hidden
	h := make([]float64, H)
	c := make([]float64, H)
	steps := make([]step, len(seq))
	z := make([]float64, 4*H)

	for t, x := range seq {
		for r := range z {
			z[r] = m.B[r] +
				floats.Dot(m.Wx[r*m.InputSize:(r+1)*m.InputSize], x) +
				floats.Dot(m.Wh[r*H:(r+1)*H], h)
		}
		s := step{
			x: x, hPrev: h, cPrev: c,
			i: make([]float64, H), f: make([]float64, H),
			g: make([]float64, H), o: make([]float64, H),
			c: make([]float64, H), tc: make([]float64, H),
		}
		hNext := make([]float64, H)
		for k := 0; k < H; k++ {
			s.i[k] = sigmoid(z[k])
			s.f[k] = sigmoid(z[H+k])
			s.g[k] = math.Tanh(z[2*H+k])
			s.o[k] = sigmoid(z[3*H+k])
			s.c[k] = s.f[k]*c[k] + s.i[k]*s.g[k]
			s.tc[k] = math.Tanh(s.c[k])
			hNext[k] = s.o[k] * s.tc[k]
		}
		steps[t] = s
		h, c = hNext, s.c
	}

	return floats.Dot(m.Wy, h) + m.By[0], steps
}

// Predict runs one sequence of InputSize-wide rows through the network.
func (m *LSTM) Predict(seq [][]float64) float64 {
	y, _ := m.forward(seq)
	return y
}

// PredictBatch predicts every sequence.
func (m *LSTM) PredictBatch(seqs [][][]float64) []float64 {
	out := make([]float64, len(seqs))
	for i, s := range seqs {
		out[i] = m.Predict(s)
	}
	return out
}

// Loss is the mean squared error of single-output predictions against
// (possibly multi-step) targets.
func (m *LSTM) Loss(ds Dataset) float64 {
	if ds.Len() == 0 {
		return 0
	}
	var total float64
	for i, seq := range ds.X {
		total += sampleLoss(m.Predict(seq), ds.Y[i])
	}
	return total / float64(ds.Len())
}

func sampleLoss(pred float64, target []float64) float64 {
	var sum float64
	for _, y := range target {
		d := pred - y
		sum += d * d
	}
	return sum / float64(len(target))
}

// gradients mirrors the parameter layout of LSTM.
type gradients struct {
	wx, wh, b, wy, by []float64
}

func (m *LSTM) params() [][]float64 {
	return [][]float64{m.Wx, m.Wh, m.B, m.Wy, m.By}
}

func newGradients(m *LSTM) *gradients {
	return &gradients{
		wx: make([]float64, len(m.Wx)),
		wh: make([]float64, len(m.Wh)),
		b:  make([]float64, len(m.B)),
		wy: make([]float64, len(m.Wy)),
		by: make([]float64, len(m.By)),
	}
}

func (g *gradients) slices() [][]float64 {
	return [][]float64{g.wx, g.wh, g.b, g.wy, g.by}
}

func (g *gradients) zero() {
	for _, s := range g.slices() {
		for i := range s {
			s[i] = 0
		}
	}
}

// backward accumulates dL/dθ for one sample given dL/dy.
func (m *LSTM) backward(steps []step, dy float64, g *gradients) {
	H := m.Hidden
	last := steps[len(steps)-1]
	hLast := make([]float64, H)
	for k := 0; k < H; k++ {
		hLast[k] = last.o[k] * last.tc[k]
	}

	floats.AddScaled(g.wy, dy, hLast)
	g.by[0] += dy

	dh := make([]float64, H)
	floats.AddScaled(dh, dy, m.Wy)
	dc := make([]float64, H)
	dz := make([]float64, 4*H)

	for t := len(steps) - 1; t >= 0; t-- {
		s := steps[t]
		for k := 0; k < H; k++ {
			do := dh[k] * s.tc[k] * s.o[k] * (1 - s.o[k])
			dct := dc[k] + dh[k]*s.o[k]*(1-s.tc[k]*s.tc[k])
			dz[k] = dct * s.g[k] * s.i[k] * (1 - s.i[k])
			dz[H+k] = dct * s.cPrev[k] * s.f[k] * (1 - s.f[k])
			dz[2*H+k] = dct * s.i[k] * (1 - s.g[k]*s.g[k])
			dz[3*H+k] = do
			dc[k] = dct * s.f[k]
		}

		dhPrev := make([]float64, H)
		for r, d := range dz {
			if d == 0 {
				continue
			}
			floats.AddScaled(g.wx[r*m.InputSize:(r+1)*m.InputSize], d, s.x)
			floats.AddScaled(g.wh[r*H:(r+1)*H], d, s.hPrev)
			g.b[r] += d
			floats.AddScaled(dhPrev, d, m.Wh[r*H:(r+1)*H])
		}
		dh = dhPrev
	}
}

// adam implements the Adam optimizer over a fixed list of parameter slices.
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  [][]float64
}

func newAdam(params [][]float64, lr float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7}
	for _, p := range params {
		a.m = append(a.m, make([]float64, len(p)))
		a.v = append(a.v, make([]float64, len(p)))
	}
	return a
}

func (a *adam) step(params, grads [][]float64) {
	a.t++
	lrT := a.lr * math.Sqrt(1-math.Pow(a.beta2, float64(a.t))) / (1 - math.Pow(a.beta1, float64(a.t)))
	for pi, p := range params {
		g, m, v := grads[pi], a.m[pi], a.v[pi]
		for i := range p {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
			v[i] = a.beta2*v[i] + (1-a.beta2)*g[i]*g[i]
			p[i] -= lrT * m[i] / (math.Sqrt(v[i]) + a.eps)
		}
	}
}

// FitOptions controls forecaster training.
type FitOptions struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
}

// Fit trains on ds in order, without shuffling, with mini-batch Adam on MSE.
// It returns the mean training loss of each epoch. Cancellation is checked
// between batches.
func (m *LSTM) Fit(ctx context.Context, ds Dataset, opts FitOptions) ([]float64, error) {
	if ds.Len() == 0 {
		return nil, fmt.Errorf("LSTM.Fit: empty dataset: %w", ErrInsufficientHistory)
	}
	batch := max(1, opts.BatchSize)
	opt := newAdam(m.params(), opts.LearningRate)
	grads := newGradients(m)

	history := make([]float64, 0, opts.Epochs)
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		var epochLoss float64
		for start := 0; start < ds.Len(); start += batch {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			end := min(start+batch, ds.Len())
			n := float64(end - start)

			grads.zero()
			for s := start; s < end; s++ {
				pred, steps := m.forward(ds.X[s])
				epochLoss += sampleLoss(pred, ds.Y[s])
				dy := 2 * (pred - stat.Mean(ds.Y[s], nil)) / n
				m.backward(steps, dy, grads)
			}
			opt.step(m.params(), grads.slices())
		}
		history = append(history, epochLoss/float64(ds.Len()))
	}
	return history, nil
}
