package forecast

import (
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-forecaster/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// Frame is a dense daily table: one row per calendar day, one column per series.
// Dates are contiguous and strictly increasing.
type Frame struct {
	Dates   []civil.Date
	Columns []string
	Values  [][]float64 // Values[row][column]
}

// Len is the number of days.
func (f *Frame) Len() int { return len(f.Dates) }

// Width is the number of columns.
func (f *Frame) Width() int { return len(f.Columns) }

// Index returns the position of the named column, or -1. An exact match wins
// over a case-insensitive one.
func (f *Frame) Index(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	for i, c := range f.Columns {
		if domain.SameCategory(c, name) {
			return i
		}
	}
	return -1
}

// Column returns a copy of the named column, or nil when absent.
func (f *Frame) Column(name string) []float64 {
	idx := f.Index(name)
	if idx < 0 {
		return nil
	}
	out := make([]float64, f.Len())
	for r, row := range f.Values {
		out[r] = row[idx]
	}
	return out
}

// LastDate returns the final day of the frame.
func (f *Frame) LastDate() (civil.Date, bool) {
	if f.Len() == 0 {
		return civil.Date{}, false
	}
	return f.Dates[f.Len()-1], true
}

// Reindex returns a frame with exactly the given columns. Missing columns are
// zero-filled and unknown ones dropped.
func (f *Frame) Reindex(columns []string) *Frame {
	src := make([]int, len(columns))
	for i, c := range columns {
		src[i] = f.Index(c)
	}

	out := &Frame{
		Dates:   append([]civil.Date(nil), f.Dates...),
		Columns: append([]string(nil), columns...),
		Values:  make([][]float64, f.Len()),
	}
	for r, row := range f.Values {
		dst := make([]float64, len(columns))
		for i, j := range src {
			if j >= 0 {
				dst[i] = row[j]
			}
		}
		out.Values[r] = dst
	}
	return out
}

// Tail returns the last n rows. Rows are shared with f.
func (f *Frame) Tail(n int) *Frame {
	if n >= f.Len() {
		n = f.Len()
	}
	start := f.Len() - n
	return &Frame{
		Dates:   f.Dates[start:],
		Columns: f.Columns,
		Values:  f.Values[start:],
	}
}

// RowMeans averages each row across columns.
func (f *Frame) RowMeans() []float64 {
	out := make([]float64, f.Len())
	for r, row := range f.Values {
		if len(row) > 0 {
			out[r] = stat.Mean(row, nil)
		}
	}
	return out
}

// Aggregate sums debit spend per (column key, day), pivots it wide and fills
// every day between the first and last observed dates, zero where nothing was
// spent. Columns are sorted. No matching rows yield an empty frame.
func Aggregate(txns []domain.Transaction, keep func(domain.Transaction) bool, column func(domain.Transaction) string) *Frame {
	sums := make(map[string]map[civil.Date]float64)
	var first, last civil.Date
	seen := false

	for _, t := range txns {
		if !t.IsDebit() || (keep != nil && !keep(t)) {
			continue
		}
		key := column(t)
		byDate, ok := sums[key]
		if !ok {
			byDate = make(map[civil.Date]float64)
			sums[key] = byDate
		}
		byDate[t.Date] += t.Spend()

		if !seen || t.Date.Before(first) {
			first = t.Date
		}
		if !seen || t.Date.After(last) {
			last = t.Date
		}
		seen = true
	}

	if !seen {
		return &Frame{}
	}

	columns := make([]string, 0, len(sums))
	for k := range sums {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	days := last.DaysSince(first) + 1
	f := &Frame{
		Dates:   make([]civil.Date, days),
		Columns: columns,
		Values:  make([][]float64, days),
	}
	for r := 0; r < days; r++ {
		d := first.AddDays(r)
		f.Dates[r] = d
		row := make([]float64, len(columns))
		for i, c := range columns {
			row[i] = sums[c][d]
		}
		f.Values[r] = row
	}
	return f
}

// DailyByEntity builds the global-mode frame for one category: one column per entity.
func DailyByEntity(txns []domain.Transaction, category string) *Frame {
	return Aggregate(txns,
		func(t domain.Transaction) bool { return domain.SameCategory(t.Category, category) },
		func(t domain.Transaction) string { return t.EntityID },
	)
}

// DailyByCategory builds the per-user frame for one entity: one column per
// category. Spellings of the same label share a column named after the first
// one seen.
func DailyByCategory(txns []domain.Transaction, entityID string) *Frame {
	names := make(map[string]string)
	return Aggregate(txns,
		func(t domain.Transaction) bool { return t.EntityID == entityID },
		func(t domain.Transaction) string {
			key := domain.CategoryKey(t.Category)
			name, ok := names[key]
			if !ok {
				name = strings.TrimSpace(t.Category)
				names[key] = name
			}
			return name
		},
	)
}
