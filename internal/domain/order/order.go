// Package order owns the order lifecycle: creation from a cart, payment
// confirmation, administrative status changes and the return sub-flow.
package order

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/bytekart/internal/domain/account"
	"github.com/xenking/bytekart/internal/domain/cart"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusPaid            Status = "PAID"
	StatusShipped         Status = "SHIPPED"
	StatusDelivered       Status = "DELIVERED"
	StatusReturnRequested Status = "RETURN_REQUESTED"
	StatusReturned        Status = "RETURNED"
	StatusFailed          Status = "FAILED"
)

// transitions lists the forward moves allowed from each status.
var transitions = map[Status][]Status{
	StatusPending:         {StatusPaid, StatusFailed},
	StatusPaid:            {StatusShipped},
	StatusShipped:         {StatusDelivered},
	StatusDelivered:       {StatusReturnRequested},
	StatusReturnRequested: {StatusReturned, StatusDelivered},
}

// ErrUnknownStatus is returned by ParseStatus.
var ErrUnknownStatus = errors.New("unknown order status")

// ParseStatus converts a case-insensitive status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusPaid, StatusShipped, StatusDelivered,
		StatusReturnRequested, StatusReturned, StatusFailed:
		return st, nil
	}
	return "", errors.Wrapf(ErrUnknownStatus, "%q", s)
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// ShippingAddress is snapshotted into the order at creation.
type ShippingAddress struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	Pincode string `json:"pincode"`
}

// ErrAddressRequired is returned when the shipping address lacks a street,
// city or pincode.
var ErrAddressRequired = errors.New("shipping address, city and pincode are required")

// Validate checks that the address can be shipped to.
func (a ShippingAddress) Validate() error {
	if strings.TrimSpace(a.Address) == "" || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.Pincode) == "" {
		return ErrAddressRequired
	}
	return nil
}

// CheckoutDetails extracts the reusable contact details.
func (a ShippingAddress) CheckoutDetails() account.CheckoutDetails {
	return account.CheckoutDetails{
		Phone:   a.Phone,
		Address: a.Address,
		City:    a.City,
		Pincode: a.Pincode,
	}
}

// Order is one checkout attempt. Items and totals are fixed at creation.
type Order struct {
	ID               uuid.UUID
	AccountID        uuid.UUID
	GatewayOrderID   string
	GatewayPaymentID string
	Items            []cart.Item
	ShippingAddress  ShippingAddress
	ShippingFee      decimal.Decimal
	Subtotal         decimal.Decimal
	Discount         decimal.Decimal
	DiscountCode     string
	Total            decimal.Decimal
	Currency         string
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ReturnStatus is the state of a return request.
type ReturnStatus string

const (
	ReturnPending  ReturnStatus = "PENDING"
	ReturnApproved ReturnStatus = "APPROVED"
	ReturnRejected ReturnStatus = "REJECTED"
)

// ParseReturnStatus converts a case-insensitive decision name.
func ParseReturnStatus(s string) (ReturnStatus, error) {
	st := ReturnStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case ReturnPending, ReturnApproved, ReturnRejected:
		return st, nil
	}
	return "", errors.Wrapf(ErrInvalidDecision, "%q", s)
}

// ReturnRequest asks for an order to be taken back. There is at most one per order.
type ReturnRequest struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	AccountID uuid.UUID
	Reason    string
	Status    ReturnStatus
	CreatedAt time.Time
	DecidedAt *time.Time
}

// ReturnView is a return request with the customer and order fields an
// administrator needs to decide it.
type ReturnView struct {
	ReturnRequest
	CustomerName  string
	CustomerEmail string
	OrderTotal    decimal.Decimal
	OrderItems    []cart.Item
}
