package forecast

import (
	"math"
	"time"

	"cloud.google.com/go/civil"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// RollingWindow is the trailing window, in days, for the spend statistics.
	RollingWindow = 7

	// labelStdFactor sets the over-spend label: actual > mean + factor*std.
	labelStdFactor = 0.5
)

// DayIndex numbers weekdays Monday=0 through Sunday=6.
func DayIndex(d civil.Date) int {
	return (int(d.In(time.UTC).Weekday()) + 6) % 7
}

// DayName returns the English weekday name.
func DayName(d civil.Date) string {
	return d.In(time.UTC).Weekday().String()
}

// windowStats returns the mean and sample standard deviation of w. A constant
// window has a standard deviation of exactly zero; a single value has NaN.
func windowStats(w []float64) (mean, std float64) {
	mean = stat.Mean(w, nil)
	switch {
	case len(w) < 2:
		std = math.NaN()
	case floats.Max(w) == floats.Min(w):
		std = 0
	default:
		std = stat.StdDev(w, nil)
	}
	return mean, std
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// LatestRollingStats returns the mean and sample standard deviation of the
// last seven days of series. Fewer than seven days yield zeros; NaN becomes zero.
func LatestRollingStats(series []float64) (mean, std float64) {
	if len(series) < RollingWindow {
		return 0, 0
	}
	mean, std = windowStats(series[len(series)-RollingWindow:])
	return finiteOrZero(mean), finiteOrZero(std)
}

// FeatureVector builds the classifier input for one day.
func FeatureVector(day civil.Date, rollingMean, rollingStd, predicted float64) []float64 {
	return []float64{float64(DayIndex(day)), rollingMean, rollingStd, predicted}
}

// BuildFeatures pairs each day with a forecaster prediction and a full trailing
// window. predicted[i] is the forecast for day offset+i. Days without either
// are dropped. The label marks days whose actual spend exceeds the trailing
// mean by more than half a standard deviation.
func BuildFeatures(dates []civil.Date, actual, predicted []float64, offset int) (x [][]float64, y []float64) {
	for i, pred := range predicted {
		r := offset + i
		if r < RollingWindow-1 || r >= len(actual) {
			continue
		}
		mean, std := windowStats(actual[r-RollingWindow+1 : r+1])
		if math.IsNaN(mean) || math.IsNaN(std) || math.IsNaN(pred) {
			continue
		}

		label := 0.0
		if actual[r] > mean+labelStdFactor*std {
			label = 1
		}
		x = append(x, FeatureVector(dates[r], mean, std, pred))
		y = append(y, label)
	}
	return x, y
}

// singleClass reports whether every label is identical.
func singleClass(y []float64) bool {
	for _, v := range y[1:] {
		if v != y[0] {
			return false
		}
	}
	return true
}
