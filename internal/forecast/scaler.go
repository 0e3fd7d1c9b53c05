package forecast

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MinMaxScaler maps each column independently onto [0, 1] using the range
// observed at fit time. Constant columns get a unit scale.
type MinMaxScaler struct {
	DataMin []float64 `json:"data_min"`
	DataMax []float64 `json:"data_max"`
	Scale   []float64 `json:"scale"`
	Min     []float64 `json:"min"`
}

// FitMinMax fits a scaler on rows of equal width.
func FitMinMax(rows [][]float64) (*MinMaxScaler, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("FitMinMax: empty input: %w", ErrShape)
	}
	width := len(rows[0])
	s := &MinMaxScaler{
		DataMin: append([]float64(nil), rows[0]...),
		DataMax: append([]float64(nil), rows[0]...),
		Scale:   make([]float64, width),
		Min:     make([]float64, width),
	}
	for _, row := range rows[1:] {
		if len(row) != width {
			return nil, fmt.Errorf("FitMinMax: row width %d, want %d: %w", len(row), width, ErrShape)
		}
		for j, v := range row {
			if v < s.DataMin[j] {
				s.DataMin[j] = v
			}
			if v > s.DataMax[j] {
				s.DataMax[j] = v
			}
		}
	}
	for j := range s.Scale {
		rng := s.DataMax[j] - s.DataMin[j]
		if rng == 0 {
			rng = 1
		}
		s.Scale[j] = 1 / rng
		s.Min[j] = -s.DataMin[j] * s.Scale[j]
	}
	return s, nil
}

// FitMinMaxColumn fits a single-column scaler.
func FitMinMaxColumn(values []float64) (*MinMaxScaler, error) {
	rows := make([][]float64, len(values))
	for i, v := range values {
		rows[i] = []float64{v}
	}
	return FitMinMax(rows)
}

// Width is the number of fitted columns.
func (s *MinMaxScaler) Width() int { return len(s.Scale) }

// Transform scales rows into the fitted range. Input is not modified.
func (s *MinMaxScaler) Transform(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != s.Width() {
			return nil, fmt.Errorf("Transform: row width %d, want %d: %w", len(row), s.Width(), ErrShape)
		}
		dst := make([]float64, len(row))
		floats.MulTo(dst, row, s.Scale)
		floats.Add(dst, s.Min)
		out[i] = dst
	}
	return out, nil
}

// InverseTransform maps scaled rows back to original units.
func (s *MinMaxScaler) InverseTransform(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != s.Width() {
			return nil, fmt.Errorf("InverseTransform: row width %d, want %d: %w", len(row), s.Width(), ErrShape)
		}
		dst := make([]float64, len(row))
		floats.SubTo(dst, row, s.Min)
		floats.Div(dst, s.Scale)
		out[i] = dst
	}
	return out, nil
}

// InverseValue inverts a single scaled value of column col.
func (s *MinMaxScaler) InverseValue(col int, v float64) float64 {
	return (v - s.Min[col]) / s.Scale[col]
}

// InverseReplicated treats v as the scaled value of every column, inverts the
// replicated row and returns its mean. Global forecasters emit one aggregate
// value per day, which is read back through the multi-column scaler this way.
func (s *MinMaxScaler) InverseReplicated(v float64) float64 {
	vals := make([]float64, s.Width())
	for j := range vals {
		vals[j] = s.InverseValue(j, v)
	}
	return stat.Mean(vals, nil)
}
