// Package cart models the single mutable shopping cart owned by an account.
//
// A cart is stored as one document. Writes replace the whole item list and the
// last writer wins; there is no version check.
package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrTooManyItems is returned when a cart write exceeds MaxItems lines.
var ErrTooManyItems = errors.New("too many cart items")

// MaxItems bounds the number of lines in a single cart.
const MaxItems = 100

// Item is a single cart line. Price is the unit price at the time the item
// was added; it is snapshotted into the order on checkout.
type Item struct {
	ProductRef string          `json:"product_ref"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
}

// LineTotal returns UnitPrice multiplied by Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the item list owned by one account.
type Cart struct {
	AccountID uuid.UUID
	Items     []Item
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// InvalidItemError indicates a cart line that cannot be priced.
type InvalidItemError struct {
	ProductRef string
	Reason     string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("invalid cart item %q: %s", e.ProductRef, e.Reason)
}

// Validate checks every line of items before a cart write.
func Validate(items []Item) error {
	if len(items) > MaxItems {
		return ErrTooManyItems
	}
	for _, item := range items {
		switch {
		case item.ProductRef == "":
			return &InvalidItemError{Reason: "product reference required"}
		case item.Quantity <= 0:
			return &InvalidItemError{ProductRef: item.ProductRef, Reason: "quantity must be greater than 0"}
		case item.UnitPrice.IsNegative():
			return &InvalidItemError{ProductRef: item.ProductRef, Reason: "price must not be negative"}
		}
	}
	return nil
}

// Repository persists carts.
type Repository interface {
	// Get returns the cart for the account. A missing cart is returned as empty.
	Get(ctx context.Context, accountID uuid.UUID) (*Cart, error)
	// Replace overwrites the whole item list.
	Replace(ctx context.Context, accountID uuid.UUID, items []Item) error
}
