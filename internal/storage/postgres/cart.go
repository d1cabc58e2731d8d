package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bytekart/internal/domain/cart"
)

const (
	getCartSQL = `SELECT items FROM carts WHERE account_id = $1`

	replaceCartSQL = `INSERT INTO carts (account_id, items, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (account_id) DO UPDATE SET items = EXCLUDED.items, updated_at = now()`

	clearCartSQL = `UPDATE carts SET items = '[]'::jsonb, updated_at = now() WHERE account_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. The item
// list is stored as one JSONB document per account.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the account's cart. A missing row is an empty cart.
func (r *CartRepository) Get(ctx context.Context, accountID uuid.UUID) (*cart.Cart, error) {
	c := &cart.Cart{AccountID: accountID}

	var raw []byte
	err := r.pool.QueryRow(ctx, getCartSQL, accountID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, nil
		}
		return nil, fmt.Errorf("getting cart for %q: %w", accountID, err)
	}
	if err := json.Unmarshal(raw, &c.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling cart items for %q: %w", accountID, err)
	}
	return c, nil
}

// Replace overwrites the whole item list.
func (r *CartRepository) Replace(ctx context.Context, accountID uuid.UUID, items []cart.Item) error {
	if items == nil {
		items = []cart.Item{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling cart items: %w", err)
	}
	if _, err := r.pool.Exec(ctx, replaceCartSQL, accountID, raw); err != nil {
		return fmt.Errorf("replacing cart for %q: %w", accountID, err)
	}
	return nil
}

func clearCart(ctx context.Context, q querier, accountID uuid.UUID) error {
	if _, err := q.Exec(ctx, clearCartSQL, accountID); err != nil {
		return fmt.Errorf("clearing cart for %q: %w", accountID, err)
	}
	return nil
}
