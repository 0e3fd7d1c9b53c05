package forecast

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-forecaster/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) civil.Date { return testStart.AddDays(n) }

func TestAggregate_PivotsSumsAndZeroFills(t *testing.T) {
	txns := []domain.Transaction{
		{EntityID: "b", Date: day(0), Amount: 5, Category: "Food"},
		{EntityID: "a", Date: day(0), Amount: 2, Category: "Food"},
		{EntityID: "a", Date: day(0), Amount: 3, Category: "food"},
		{EntityID: "a", Date: day(3), Amount: -7, Category: "Food", Type: domain.TxnDebit},
		{EntityID: "a", Date: day(9), Amount: 100, Category: "Food", Type: domain.TxnCredit},
		{EntityID: "a", Date: day(1), Amount: 50, Category: "Fuel"},
	}

	f := DailyByEntity(txns, "Food")
	require.Equal(t, []string{"a", "b"}, f.Columns)
	require.Equal(t, 4, f.Len(), "credits do not extend the range")
	assert.Equal(t, day(0), f.Dates[0])
	assert.Equal(t, day(3), f.Dates[3])
	assert.Equal(t, []float64{5, 5}, f.Values[0])
	assert.Equal(t, []float64{0, 0}, f.Values[1])
	assert.Equal(t, []float64{0, 0}, f.Values[2])
	assert.Equal(t, []float64{7, 0}, f.Values[3])

	for i := 1; i < f.Len(); i++ {
		assert.Equal(t, 1, f.Dates[i].DaysSince(f.Dates[i-1]), "dates must be contiguous")
	}
}

func TestAggregate_Empty(t *testing.T) {
	f := DailyByCategory(nil, "a")
	assert.Equal(t, 0, f.Len())
	assert.Equal(t, 0, f.Width())
	_, ok := f.LastDate()
	assert.False(t, ok)
}

func TestFrame_ReindexAndColumn(t *testing.T) {
	f := &Frame{
		Dates:   []civil.Date{day(0), day(1)},
		Columns: []string{"Food", "Rent"},
		Values:  [][]float64{{1, 2}, {3, 4}},
	}

	r := f.Reindex([]string{"Rent", "Travel"})
	assert.Equal(t, []string{"Rent", "Travel"}, r.Columns)
	assert.Equal(t, [][]float64{{2, 0}, {4, 0}}, r.Values)

	assert.Equal(t, []float64{1, 3}, f.Column("food"))
	assert.Nil(t, f.Column("Travel"))
	assert.Equal(t, []float64{1.5, 3.5}, f.RowMeans())
}

func TestDailyByCategory_MergesSpellings(t *testing.T) {
	d := civil.Date{Year: 2024, Month: 1, Day: 1}
	f := DailyByCategory([]domain.Transaction{
		{EntityID: "u1", Date: d, Amount: -5, Category: "Food"},
		{EntityID: "u1", Date: d, Amount: -3, Category: "food "},
		{EntityID: "u1", Date: d.AddDays(1), Amount: -2, Category: "FOOD"},
	}, "u1")

	require.Equal(t, []string{"Food"}, f.Columns)
	assert.Equal(t, []float64{8, 2}, f.Column("Food"))
}
