package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-forecaster/internal/domain"
	"github.com/dvloznov/spend-forecaster/internal/forecast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `account_id,date,amount,category,type
acc1,2024-03-01,12.50,Food,DEBIT
acc1,2024-03-01,not-a-number,Food,DEBIT
acc2,03/02/2024,8.00,Food,DEBIT
acc2,2024-03-02T09:30:00Z,-40,Fuel,debit
acc1,2024-03-03,1000,Salary,CREDIT
`

func TestParseCSV(t *testing.T) {
	txns, skipped, err := ParseCSV(strings.NewReader(sample))
	require.NoError(t, err)
	assert.Equal(t, 2, skipped, "bad amount and bad date are dropped")
	require.Len(t, txns, 3)

	assert.Equal(t, "acc1", txns[0].EntityID)
	assert.Equal(t, civil.Date{Year: 2024, Month: 3, Day: 1}, txns[0].Date)
	assert.Equal(t, 12.5, txns[0].Amount)
	assert.Equal(t, domain.TxnDebit, txns[0].Type)

	assert.Equal(t, civil.Date{Year: 2024, Month: 3, Day: 2}, txns[1].Date)
	assert.Equal(t, domain.TxnDebit, txns[1].Type)
	assert.Equal(t, 40.0, txns[1].Spend())

	assert.Equal(t, domain.TxnCredit, txns[2].Type)
	assert.Equal(t, 0.0, txns[2].Spend())
}

func TestParseCSV_ColumnOrderAndOptionalFields(t *testing.T) {
	in := "Category,Amount,Date,Account_ID,user_id\nFood,3,2024-01-05,a,u9\n"
	txns, _, err := ParseCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "a", txns[0].EntityID)
	assert.Equal(t, "u9", txns[0].UserID)
	assert.Equal(t, domain.TxnType(""), txns[0].Type)
	assert.True(t, txns[0].IsDebit())
}

func TestParseCSV_MissingColumn(t *testing.T) {
	_, _, err := ParseCSV(strings.NewReader("account_id,date,amount\na,2024-01-01,1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"category"`)
}

func TestParseCSV_Empty(t *testing.T) {
	txns, skipped, err := ParseCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, txns)
	assert.Zero(t, skipped)
}

func TestCSVSource_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transactions.csv")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	src := NewCSVSource(path)

	got, err := src.Load(context.Background(), forecast.Query{Category: "food"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = src.Load(context.Background(), forecast.Query{EntityID: "acc2"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Appended rows are visible on the next load.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("acc2,2024-03-04,5,Food,DEBIT\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err = src.Load(context.Background(), forecast.Query{Category: "Food"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCSVSource_MissingFile(t *testing.T) {
	_, err := NewCSVSource(filepath.Join(t.TempDir(), "nope.csv")).Load(context.Background(), forecast.Query{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
