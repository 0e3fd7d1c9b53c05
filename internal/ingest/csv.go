// Package ingest reads transaction exports into domain transactions.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-forecaster/internal/domain"
	"github.com/dvloznov/spend-forecaster/internal/forecast"
	"github.com/dvloznov/spend-forecaster/internal/logger"
	"github.com/shopspring/decimal"
)

// Required and optional header names of the transactions export.
const (
	colAccount     = "account_id"
	colDate        = "date"
	colAmount      = "amount"
	colCategory    = "category"
	colType        = "type"
	colUser        = "user_id"
	colDescription = "description"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}

// ParseCSV reads a transactions export with a header row. Columns are found
// by name; account_id, date, amount and category are required. Rows whose
// amount or date cannot be parsed are skipped and counted in skipped.
func ParseCSV(r io.Reader) (txns []domain.Transaction, skipped int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("reading CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{colAccount, colDate, colAmount, colCategory} {
		if _, ok := cols[name]; !ok {
			return nil, 0, fmt.Errorf("CSV header is missing column %q", name)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("line %d: %w", line, err)
		}

		amount, err := decimal.NewFromString(field(rec, colAmount))
		if err != nil {
			skipped++
			continue
		}
		date, ok := parseDate(field(rec, colDate))
		if !ok {
			skipped++
			continue
		}

		txns = append(txns, domain.Transaction{
			EntityID:    field(rec, colAccount),
			UserID:      field(rec, colUser),
			Date:        date,
			Amount:      amount.InexactFloat64(),
			Category:    field(rec, colCategory),
			Type:        domain.TxnType(strings.ToUpper(field(rec, colType))),
			Description: field(rec, colDescription),
		})
	}
	return txns, skipped, nil
}

func parseDate(s string) (civil.Date, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

// CSVSource serves transactions from a CSV file, re-reading it on every load
// so new exports are picked up without a restart.
type CSVSource struct {
	Path string
}

// NewCSVSource creates a source over the file at path.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: path}
}

// Load implements forecast.Source.
func (s *CSVSource) Load(ctx context.Context, q forecast.Query) ([]domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("CSVSource.Load: %w", err)
	}
	defer f.Close()

	txns, skipped, err := ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("CSVSource.Load: %s: %w", s.Path, err)
	}
	if skipped > 0 {
		log := logger.FromContext(ctx)
		log.Debug().Str("path", s.Path).Int("skipped", skipped).Msg("Dropped unparseable CSV rows")
	}
	return forecast.Filter(txns, q), nil
}

var _ forecast.Source = (*CSVSource)(nil)
