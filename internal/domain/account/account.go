package account

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Role is the authorization level of an account.
type Role string

const (
	// RoleUser is a regular customer.
	RoleUser Role = "user"
	// RoleAdmin may change order status and decide return requests.
	RoleAdmin Role = "admin"
)

// ErrNotFound is returned when no account matches the identifier.
var ErrNotFound = errors.New("account not found")

// DefaultDisplayName is used in notifications when the account has no name.
const DefaultDisplayName = "Customer"

// Account is the local record of an identity issued by the external token issuer.
type Account struct {
	ID    uuid.UUID
	Email string
	Name  string
	Role  Role
}

// IsAdmin reports whether the account carries the administrator role.
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// DisplayName returns the name to greet the account holder with.
func (a *Account) DisplayName() string {
	if a.Name == "" {
		return DefaultDisplayName
	}
	return a.Name
}

// CheckoutDetails are the contact details remembered from the last checkout.
type CheckoutDetails struct {
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	Pincode string `json:"pincode"`
}

// Repository provides account lookups.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Account, error)
	GetCheckoutDetails(ctx context.Context, id uuid.UUID) (*CheckoutDetails, error)
}
