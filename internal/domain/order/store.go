package order

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/bytekart/internal/domain/account"
	"github.com/xenking/bytekart/internal/domain/discount"
)

// Store persists orders and return requests. Every mutation goes through
// InTx so that a transition and its side effects commit together.
type Store interface {
	// InTx runs fn in a transaction. The transaction commits if fn returns nil
	// and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]Order, error)
	List(ctx context.Context) ([]Order, error)
	ListReturns(ctx context.Context) ([]ReturnView, error)
	// ListStalePending returns PENDING orders created before the cutoff, oldest first.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
}

// Tx is the set of operations available inside a transaction. The *ForUpdate
// reads lock the row until the transaction ends.
type Tx interface {
	discount.Ledger

	Create(ctx context.Context, o *Order) error
	UpsertCheckoutDetails(ctx context.Context, accountID uuid.UUID, d account.CheckoutDetails) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByGatewayOrderIDForUpdate(ctx context.Context, gatewayOrderID string) (*Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	MarkPaid(ctx context.Context, id uuid.UUID, gatewayPaymentID string) error
	ClearCart(ctx context.Context, accountID uuid.UUID) error

	CreateReturn(ctx context.Context, r *ReturnRequest) error
	FindReturnByOrder(ctx context.Context, orderID uuid.UUID) (*ReturnRequest, error)
	GetReturnForUpdate(ctx context.Context, id uuid.UUID) (*ReturnRequest, error)
	DecideReturn(ctx context.Context, id uuid.UUID, status ReturnStatus, decidedAt time.Time) error
}

// CodeLookup resolves a user supplied discount code to a redeemable code.
type CodeLookup interface {
	Lookup(ctx context.Context, code string) (*discount.Code, error)
}
