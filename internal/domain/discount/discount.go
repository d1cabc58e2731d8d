// Package discount holds redeemable discount codes and the rules for applying
// them to a subtotal.
package discount

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindPercentage takes a percentage off the subtotal.
	KindPercentage Kind = "percentage"
	// KindFixed takes a fixed amount off the subtotal, capped at the subtotal.
	KindFixed Kind = "fixed"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindPercentage || k == KindFixed
}

var (
	// ErrCodeNotFound is returned when no code matches.
	ErrCodeNotFound = errors.New("discount code not found")
	// ErrCodeInactive is returned when the code exists but is switched off.
	ErrCodeInactive = errors.New("discount code is inactive")
	// ErrCodeExhausted is returned when the code has reached its redemption ceiling.
	ErrCodeExhausted = errors.New("discount code has reached its maximum number of uses")
	// ErrCodeChanged is returned when the code was edited between pricing and reservation.
	ErrCodeChanged = errors.New("discount code changed during checkout")
	// ErrCodeExists is returned when creating or renaming a code onto an existing one.
	ErrCodeExists = errors.New("a code with this name already exists")
)

// InvalidCodeError reports why a code cannot be redeemed. Err is one of
// ErrCodeNotFound, ErrCodeInactive, ErrCodeExhausted or ErrCodeChanged.
type InvalidCodeError struct {
	Code string
	Err  error
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid discount code %q: %v", e.Code, e.Err)
}

func (e *InvalidCodeError) Unwrap() error {
	return e.Err
}

// ValidationError reports a malformed code definition.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var hundred = decimal.NewFromInt(100)

// Code is a redeemable discount code.
type Code struct {
	ID             uuid.UUID
	Code           string
	Kind           Kind
	Value          decimal.Decimal
	MaxRedemptions int
	Redemptions    int
	Active         bool
	CreatedAt      time.Time
}

// Normalize returns the canonical stored form of a user supplied code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Check reports whether the code may be redeemed right now. It is a read-only
// check; the authoritative guard is the conditional increment in Ledger.Reserve.
func (c *Code) Check() error {
	if !c.Active {
		return &InvalidCodeError{Code: c.Code, Err: ErrCodeInactive}
	}
	if c.Redemptions >= c.MaxRedemptions {
		return &InvalidCodeError{Code: c.Code, Err: ErrCodeExhausted}
	}
	return nil
}

// Remaining returns the number of redemptions left.
func (c *Code) Remaining() int {
	if n := c.MaxRedemptions - c.Redemptions; n > 0 {
		return n
	}
	return 0
}

// Amount returns the discount for the given subtotal. Percentage discounts are
// rounded to two places; fixed discounts never exceed the subtotal.
func (c *Code) Amount(subtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch c.Kind {
	case KindPercentage:
		amount = subtotal.Mul(c.Value).Div(hundred).Round(2)
	case KindFixed:
		amount = c.Value
	default:
		return decimal.Zero
	}
	return decimal.Min(amount, subtotal)
}

// Validate checks a code definition before it is stored.
func (c *Code) Validate() error {
	switch {
	case c.Code == "":
		return &ValidationError{Field: "code", Reason: "must not be empty"}
	case !c.Kind.Valid():
		return &ValidationError{Field: "discount_type", Reason: fmt.Sprintf("unknown kind %q", c.Kind)}
	case c.Value.IsNegative():
		return &ValidationError{Field: "discount_value", Reason: "must not be negative"}
	case c.Kind == KindPercentage && c.Value.GreaterThan(hundred):
		return &ValidationError{Field: "discount_value", Reason: "percentage must not exceed 100"}
	case c.MaxRedemptions < 0:
		return &ValidationError{Field: "max_redeems", Reason: "must not be negative"}
	case c.Redemptions > c.MaxRedemptions:
		return &ValidationError{Field: "max_redeems", Reason: "must not be below the current redemption count"}
	}
	return nil
}

// Redemption is one reserved use of a code. It becomes permanent only when the
// transaction that reserved it commits.
type Redemption struct {
	CodeID         uuid.UUID
	Code           string
	Kind           Kind
	Value          decimal.Decimal
	Redemptions    int
	MaxRedemptions int
}

// Matches reports whether the reserved code still carries the terms the order
// was priced with.
func (r *Redemption) Matches(c *Code) bool {
	return r.Kind == c.Kind && r.Value.Equal(c.Value)
}

// Ledger reserves redemptions inside the caller's transaction. Implementations
// must increment the counter with a single conditional update so concurrent
// reservations never exceed MaxRedemptions.
type Ledger interface {
	Reserve(ctx context.Context, code string) (*Redemption, error)
}

// Repository provides lookup and administration of codes.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Code, error)
	Get(ctx context.Context, id uuid.UUID) (*Code, error)
	List(ctx context.Context) ([]Code, error)
	Create(ctx context.Context, c *Code) error
	Update(ctx context.Context, c *Code) error
	Delete(ctx context.Context, id uuid.UUID) error
}
