package forecast

import "math"

// Dataset holds supervised windows: X[i] is a lookBack×width sequence and
// Y[i] the horizon target values that immediately follow it.
type Dataset struct {
	X [][][]float64
	Y [][]float64
}

// Len is the number of windows.
func (d Dataset) Len() int { return len(d.X) }

// Slice returns windows [from, to).
func (d Dataset) Slice(from, to int) Dataset {
	return Dataset{X: d.X[from:to], Y: d.Y[from:to]}
}

// WindowCount is the number of stride-1 windows a series of n rows yields.
func WindowCount(n, lookBack, horizon int) int {
	return max(0, n-lookBack-horizon+1)
}

// Windows slides a stride-1 window over rows. target[r] is the label value for row r.
func Windows(rows [][]float64, target []float64, lookBack, horizon int) Dataset {
	count := WindowCount(len(rows), lookBack, horizon)
	ds := Dataset{
		X: make([][][]float64, count),
		Y: make([][]float64, count),
	}
	for i := 0; i < count; i++ {
		ds.X[i] = rows[i : i+lookBack]
		ds.Y[i] = target[i+lookBack : i+lookBack+horizon]
	}
	return ds
}

// TrainSplit returns how many leading windows go to training. The remainder is
// the chronologically later validation tail.
func TrainSplit(count int, fraction float64) int {
	return int(math.Floor(fraction * float64(count)))
}
