package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItem_LineTotal(t *testing.T) {
	item := Item{ProductRef: "p1", UnitPrice: decimal.RequireFromString("19.99"), Quantity: 3}
	assert.True(t, decimal.RequireFromString("59.97").Equal(item.LineTotal()))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		items   []Item
		wantErr bool
	}{
		{
			name:  "empty list is valid",
			items: nil,
		},
		{
			name:  "valid items",
			items: []Item{{ProductRef: "p1", UnitPrice: decimal.NewFromInt(10), Quantity: 1}},
		},
		{
			name:    "zero quantity",
			items:   []Item{{ProductRef: "p1", UnitPrice: decimal.NewFromInt(10), Quantity: 0}},
			wantErr: true,
		},
		{
			name:    "negative price",
			items:   []Item{{ProductRef: "p1", UnitPrice: decimal.NewFromInt(-1), Quantity: 1}},
			wantErr: true,
		},
		{
			name:    "missing product reference",
			items:   []Item{{UnitPrice: decimal.NewFromInt(1), Quantity: 1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.items)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			var itemErr *InvalidItemError
			require.ErrorAs(t, err, &itemErr)
		})
	}
}

func TestValidate_TooManyItems(t *testing.T) {
	items := make([]Item, MaxItems+1)
	for i := range items {
		items[i] = Item{ProductRef: "p", UnitPrice: decimal.NewFromInt(1), Quantity: 1}
	}
	require.ErrorIs(t, Validate(items), ErrTooManyItems)
}
