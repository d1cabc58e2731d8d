package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bytekart/internal/domain/account"
)

const (
	getAccountSQL = `SELECT id, email, name, role FROM accounts WHERE id = $1`

	upsertAccountSQL = `INSERT INTO accounts (id, email, name, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name, role = EXCLUDED.role`

	getCheckoutDetailsSQL = `SELECT phone, address, city, pincode FROM checkout_details WHERE account_id = $1`

	// Empty fields keep the stored value.
	upsertCheckoutDetailsSQL = `INSERT INTO checkout_details (account_id, phone, address, city, pincode)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE SET
			phone      = COALESCE(NULLIF(EXCLUDED.phone, ''), checkout_details.phone),
			address    = COALESCE(NULLIF(EXCLUDED.address, ''), checkout_details.address),
			city       = COALESCE(NULLIF(EXCLUDED.city, ''), checkout_details.city),
			pincode    = COALESCE(NULLIF(EXCLUDED.pincode, ''), checkout_details.pincode),
			updated_at = now()`
)

var _ account.Repository = (*AccountRepository)(nil)

// AccountRepository implements account.Repository backed by PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository returns an AccountRepository that uses the given pool.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Get returns the account with the given id or account.ErrNotFound.
func (r *AccountRepository) Get(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	var (
		a    account.Account
		role string
	)
	err := r.pool.QueryRow(ctx, getAccountSQL, id).Scan(&a.ID, &a.Email, &a.Name, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("getting account %q: %w", id, err)
	}
	a.Role = account.Role(role)
	return &a, nil
}

// Upsert creates the account or overwrites its profile.
func (r *AccountRepository) Upsert(ctx context.Context, a *account.Account) error {
	if _, err := r.pool.Exec(ctx, upsertAccountSQL, a.ID, a.Email, a.Name, string(a.Role)); err != nil {
		return fmt.Errorf("upserting account %q: %w", a.ID, err)
	}
	return nil
}

// GetCheckoutDetails returns the remembered details or account.ErrNotFound.
func (r *AccountRepository) GetCheckoutDetails(ctx context.Context, id uuid.UUID) (*account.CheckoutDetails, error) {
	var d account.CheckoutDetails
	err := r.pool.QueryRow(ctx, getCheckoutDetailsSQL, id).Scan(&d.Phone, &d.Address, &d.City, &d.Pincode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("getting checkout details for %q: %w", id, err)
	}
	return &d, nil
}

func upsertCheckoutDetails(ctx context.Context, q querier, accountID uuid.UUID, d account.CheckoutDetails) error {
	_, err := q.Exec(ctx, upsertCheckoutDetailsSQL, accountID, d.Phone, d.Address, d.City, d.Pincode)
	if err != nil {
		return fmt.Errorf("upserting checkout details for %q: %w", accountID, err)
	}
	return nil
}
