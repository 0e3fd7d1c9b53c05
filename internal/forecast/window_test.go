package forecast

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameOfDays(n int, columns ...string) *Frame {
	f := &Frame{Columns: columns}
	for i := 0; i < n; i++ {
		f.Dates = append(f.Dates, day(i))
		row := make([]float64, len(columns))
		for j := range row {
			row[j] = float64(i + 1)
		}
		f.Values = append(f.Values, row)
	}
	return f
}

func assertIncreasingDaily(t *testing.T, dates []civil.Date) {
	t.Helper()
	for i := 1; i < len(dates); i++ {
		assert.Equal(t, 1, dates[i].DaysSince(dates[i-1]))
	}
}

func TestLookBack_LengthAndEndDate(t *testing.T) {
	today := day(500)
	for _, n := range []int{0, 1, 3, 7, 30, 45} {
		for _, length := range []int{1, 7, 30} {
			f := frameOfDays(n, "a", "b")
			w := LookBack(f, []string{"a", "b"}, length, today)

			require.Equal(t, length, w.Len(), "n=%d length=%d", n, length)
			assertIncreasingDaily(t, w.Dates)

			last, _ := w.LastDate()
			if n == 0 {
				assert.Equal(t, today, last)
			} else {
				assert.Equal(t, day(n-1), last)
			}
		}
	}
}

func TestLookBack_PadsWithLeadingZeros(t *testing.T) {
	w := LookBack(frameOfDays(2, "a"), []string{"a"}, 5, day(100))

	assert.Equal(t, [][]float64{{0}, {0}, {0}, {1}, {2}}, w.Values)
	assert.Equal(t, day(-3), w.Dates[0])
}

func TestLookBack_ReindexesColumns(t *testing.T) {
	w := LookBack(frameOfDays(10, "a", "z"), []string{"a", "b"}, 3, day(100))

	assert.Equal(t, []string{"a", "b"}, w.Columns)
	assert.Equal(t, [][]float64{{8, 0}, {9, 0}, {10, 0}}, w.Values)
}

func TestLookBack_NoColumns(t *testing.T) {
	w := LookBack(frameOfDays(3, "a"), nil, 4, day(100))
	assert.Equal(t, 4, w.Len())
	assert.Equal(t, 0, w.Width())
}
