// Package pricing computes the authoritative total of an order from a cart
// snapshot. It is pure: it performs no I/O and never trusts client totals.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bytekart/internal/domain/cart"
	"github.com/xenking/bytekart/internal/domain/discount"
)

var (
	// ErrEmptyCart is returned when there is nothing to price.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrNegativeShippingFee is returned for a shipping fee below zero.
	ErrNegativeShippingFee = errors.New("shipping fee must not be negative")
)

// Quote is the result of pricing a cart.
type Quote struct {
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	ShippingFee decimal.Decimal
	Total       decimal.Decimal
	// Code is the normalized discount code applied, or empty.
	Code string
}

// ComputeTotal prices items with the given shipping fee and optional code.
//
// total = max(subtotal - discount + shippingFee, 0)
func ComputeTotal(items []cart.Item, shippingFee decimal.Decimal, code *discount.Code) (Quote, error) {
	if len(items) == 0 {
		return Quote{}, ErrEmptyCart
	}
	if shippingFee.IsNegative() {
		return Quote{}, ErrNegativeShippingFee
	}

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}

	q := Quote{
		Subtotal:    subtotal,
		Discount:    decimal.Zero,
		ShippingFee: shippingFee,
	}
	if code != nil {
		if err := code.Check(); err != nil {
			return Quote{}, err
		}
		q.Discount = code.Amount(subtotal)
		q.Code = code.Code
	}

	q.Total = subtotal.Sub(q.Discount).Add(shippingFee)
	if q.Total.IsNegative() {
		q.Total = decimal.Zero
	}
	return q, nil
}
