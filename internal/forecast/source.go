package forecast

import (
	"context"

	"github.com/dvloznov/spend-forecaster/internal/domain"
)

// Query narrows a transaction load. Empty fields match everything.
type Query struct {
	EntityID string
	Category string
}

// Matches reports whether t satisfies the query.
func (q Query) Matches(t domain.Transaction) bool {
	if q.EntityID != "" && t.EntityID != q.EntityID {
		return false
	}
	if q.Category != "" && !domain.SameCategory(t.Category, q.Category) {
		return false
	}
	return true
}

// Source supplies raw transactions. Implementations are queried on every
// training run and every inference, so results always reflect current data.
type Source interface {
	Load(ctx context.Context, q Query) ([]domain.Transaction, error)
}

// StaticSource serves a fixed slice of transactions.
type StaticSource []domain.Transaction

// Load implements Source.
func (s StaticSource) Load(ctx context.Context, q Query) ([]domain.Transaction, error) {
	return Filter(s, q), nil
}

// Filter returns the transactions matching q.
func Filter(txns []domain.Transaction, q Query) []domain.Transaction {
	var out []domain.Transaction
	for _, t := range txns {
		if q.Matches(t) {
			out = append(out, t)
		}
	}
	return out
}

var _ Source = StaticSource(nil)
