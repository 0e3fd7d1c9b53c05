package forecast

import "cloud.google.com/go/civil"

// LookBack returns exactly length rows over the given columns, ending at the
// frame's last day. Short frames get leading zero rows dated backwards from the
// earliest real day; an empty frame yields zero rows ending at today.
func LookBack(f *Frame, columns []string, length int, today civil.Date) *Frame {
	r := f.Reindex(columns)
	if r.Len() >= length {
		return r.Tail(length)
	}

	pad := length - r.Len()
	start := today.AddDays(-(length - 1))
	if r.Len() > 0 {
		start = r.Dates[0].AddDays(-pad)
	}

	out := &Frame{
		Dates:   make([]civil.Date, 0, length),
		Columns: r.Columns,
		Values:  make([][]float64, 0, length),
	}
	for i := 0; i < pad; i++ {
		out.Dates = append(out.Dates, start.AddDays(i))
		out.Values = append(out.Values, make([]float64, len(columns)))
	}
	out.Dates = append(out.Dates, r.Dates...)
	out.Values = append(out.Values, r.Values...)
	return out
}
