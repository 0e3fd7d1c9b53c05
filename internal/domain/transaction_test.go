package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpend(t *testing.T) {
	tests := []struct {
		name string
		txn  Transaction
		want float64
	}{
		{"untyped positive", Transaction{Amount: 12.5}, 12.5},
		{"debit stored negative", Transaction{Amount: -40, Type: TxnDebit}, 40},
		{"credit ignored", Transaction{Amount: 100, Type: TxnCredit}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.txn.Spend())
		})
	}
}

func TestSameCategory(t *testing.T) {
	assert.True(t, SameCategory("Groceries", "groceries "))
	assert.True(t, SameCategory("  EATING OUT", "Eating Out"))
	assert.False(t, SameCategory("Food", "Fuel"))
}
