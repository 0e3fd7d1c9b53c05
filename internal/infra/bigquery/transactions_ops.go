package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/spend-forecaster/internal/domain"
	"github.com/dvloznov/spend-forecaster/internal/forecast"
	"google.golang.org/api/iterator"
)

const transactionsTable = "transactions"

// entityColumns lists the columns a transaction source may group by. The name
// is interpolated into SQL, so only these are accepted.
var entityColumns = map[string]bool{"account_id": true, "user_id": true}

// buildTransactionQuery returns the SQL and parameters for a source query.
// Only transactions from successful parsing runs are included.
func buildTransactionQuery(dataset, entityColumn string, q forecast.Query) (string, []bigquery.QueryParameter, error) {
	if !entityColumns[entityColumn] {
		return "", nil, fmt.Errorf("unsupported entity column %q", entityColumn)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `
		SELECT
			t.transaction_id,
			t.user_id,
			t.account_id,
			t.transaction_date,
			t.amount,
			t.direction,
			t.raw_description,
			t.category_name
		FROM %s.%s t
		INNER JOIN %s.parsing_runs pr
		  ON t.parsing_run_id = pr.parsing_run_id
		WHERE pr.status = 'SUCCESS'
		  AND t.category_name IS NOT NULL`, dataset, transactionsTable, dataset)

	var params []bigquery.QueryParameter
	if q.EntityID != "" {
		fmt.Fprintf(&sb, "\n\t\t  AND t.%s = @entity_id", entityColumn)
		params = append(params, bigquery.QueryParameter{Name: "entity_id", Value: q.EntityID})
	}
	if q.Category != "" {
		sb.WriteString("\n\t\t  AND LOWER(TRIM(t.category_name)) = LOWER(TRIM(@category))")
		params = append(params, bigquery.QueryParameter{Name: "category", Value: q.Category})
	}
	sb.WriteString("\n\t\tORDER BY t.transaction_date, t.created_ts\n\t")
	return sb.String(), params, nil
}

// QueryTransactionsWithClient reads the transactions matching q using the provided client.
func QueryTransactionsWithClient(ctx context.Context, client *bigquery.Client, dataset, entityColumn string, q forecast.Query) ([]*TransactionRow, error) {
	sql, params, err := buildTransactionQuery(dataset, entityColumn, q)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactions: %w", err)
	}
	query := client.Query(sql)
	query.Parameters = params

	it, err := query.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactions: query read: %w", err)
	}

	var rows []*TransactionRow
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryTransactions: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}

// TransactionSource serves forecaster input from finance.transactions.
type TransactionSource struct {
	client       *bigquery.Client
	dataset      string
	entityColumn string
}

// NewTransactionSource creates a source with its own client. Close releases it.
func NewTransactionSource(ctx context.Context, projectID, dataset, entityColumn string) (*TransactionSource, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewTransactionSource: creating client: %w", err)
	}
	return NewTransactionSourceWithClient(client, dataset, entityColumn)
}

// NewTransactionSourceWithClient creates a source over a shared client.
func NewTransactionSourceWithClient(client *bigquery.Client, dataset, entityColumn string) (*TransactionSource, error) {
	if !entityColumns[entityColumn] {
		return nil, fmt.Errorf("NewTransactionSource: unsupported entity column %q", entityColumn)
	}
	return &TransactionSource{client: client, dataset: dataset, entityColumn: entityColumn}, nil
}

// Load implements forecast.Source.
func (s *TransactionSource) Load(ctx context.Context, q forecast.Query) ([]domain.Transaction, error) {
	rows, err := QueryTransactionsWithClient(ctx, s.client, s.dataset, s.entityColumn, q)
	if err != nil {
		return nil, err
	}
	txns := make([]domain.Transaction, 0, len(rows))
	for _, r := range rows {
		txns = append(txns, r.ToDomain(s.entityColumn))
	}
	return txns, nil
}

// Close closes the BigQuery client connection.
func (s *TransactionSource) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

var _ forecast.Source = (*TransactionSource)(nil)
