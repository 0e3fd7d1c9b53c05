package bigquery

import (
	"math/big"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-forecaster/internal/domain"
)

// TransactionRow is the subset of finance.transactions the forecaster reads.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	UserID    bigquery.NullString `bigquery:"user_id"`    // NULLABLE
	AccountID bigquery.NullString `bigquery:"account_id"` // NULLABLE

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED in schema

	Amount *big.Rat `bigquery:"amount"` // REQUIRED NUMERIC

	Direction bigquery.NullString `bigquery:"direction"` // NULLABLE, IN or OUT

	RawDescription string              `bigquery:"raw_description"` // REQUIRED STRING
	CategoryName   bigquery.NullString `bigquery:"category_name"`   // NULLABLE
}

// ToDomain converts the row, taking the entity from account_id or user_id.
// Direction OUT, or a negative amount when direction is unset, is a debit.
func (r *TransactionRow) ToDomain(entityColumn string) domain.Transaction {
	amount := 0.0
	if r.Amount != nil {
		amount, _ = r.Amount.Float64()
	}

	typ := domain.TxnCredit
	switch {
	case r.Direction.Valid && strings.EqualFold(r.Direction.StringVal, "OUT"):
		typ = domain.TxnDebit
	case !r.Direction.Valid && amount < 0:
		typ = domain.TxnDebit
	}

	entity := r.AccountID.StringVal
	if entityColumn == "user_id" {
		entity = r.UserID.StringVal
	}

	return domain.Transaction{
		EntityID:    entity,
		UserID:      r.UserID.StringVal,
		Date:        r.TransactionDate,
		Amount:      amount,
		Category:    r.CategoryName.StringVal,
		Type:        typ,
		Description: r.RawDescription,
	}
}
