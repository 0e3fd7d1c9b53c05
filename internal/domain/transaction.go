package domain

import (
	"math"
	"strings"

	"cloud.google.com/go/civil"
	"golang.org/x/text/cases"
)

// TxnType distinguishes money leaving an account from money arriving.
type TxnType string

const (
	TxnDebit  TxnType = "DEBIT"
	TxnCredit TxnType = "CREDIT"
)

// Transaction is one normalized spend record as consumed by the forecaster.
// Sources map their own rows into this struct; EntityID is the key the daily
// series is built on (an account in the CSV export, an account or user in BigQuery).
type Transaction struct {
	EntityID    string
	UserID      string
	Date        civil.Date
	Amount      float64 // signed as the source reports it
	Category    string
	Type        TxnType // empty when the source has no type column
	Description string
}

// IsDebit reports whether the transaction counts towards spend.
// Rows without an explicit type are treated as debits.
func (t Transaction) IsDebit() bool {
	return t.Type != TxnCredit
}

// Spend returns the magnitude counted towards daily spend, zero for credits.
func (t Transaction) Spend() float64 {
	if !t.IsDebit() {
		return 0
	}
	return math.Abs(t.Amount)
}

// CategoryKey is the canonical form of a category label: case-folded with
// surrounding space removed.
func CategoryKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// SameCategory compares two category labels ignoring case and surrounding space.
func SameCategory(a, b string) bool {
	return CategoryKey(a) == CategoryKey(b)
}
