package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bytekart/internal/domain/discount"
)

const (
	discountColumns = `id, code, kind, value, max_redemptions, redemptions, active, created_at`

	getDiscountByCodeSQL = `SELECT ` + discountColumns + ` FROM discount_codes WHERE code = $1`
	getDiscountSQL       = `SELECT ` + discountColumns + ` FROM discount_codes WHERE id = $1`
	listDiscountsSQL     = `SELECT ` + discountColumns + ` FROM discount_codes ORDER BY created_at DESC, code`

	createDiscountSQL = `INSERT INTO discount_codes (id, code, kind, value, max_redemptions, redemptions, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	// The redemption counter is never written here; only Reserve moves it.
	updateDiscountSQL = `UPDATE discount_codes
		SET code = $2, kind = $3, value = $4, max_redemptions = $5, active = $6
		WHERE id = $1`

	deleteDiscountSQL = `DELETE FROM discount_codes WHERE id = $1`

	reserveDiscountSQL = `UPDATE discount_codes
		SET redemptions = redemptions + 1
		WHERE code = $1 AND active AND redemptions < max_redemptions
		RETURNING id, code, kind, value, redemptions, max_redemptions`

	reserveMissSQL = `SELECT active FROM discount_codes WHERE code = $1`

	importDiscountSQL = `INSERT INTO discount_codes (id, code, kind, value, max_redemptions, active)
		VALUES ($1, $2, $3, $4, $5, true)
		ON CONFLICT (code) DO NOTHING`

	discountCodeKey   = "discount_codes_code_key"
	discountCeiling   = "discount_codes_ceiling"
	checkViolation    = "23514"
	importBatchLength = 500
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode looks up a code by its normalized form, active or not.
// Returns discount.ErrCodeNotFound when no code matches.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Code, error) {
	return r.getOne(ctx, getDiscountByCodeSQL, code)
}

// Get returns the code with the given id or discount.ErrCodeNotFound.
func (r *DiscountRepository) Get(ctx context.Context, id uuid.UUID) (*discount.Code, error) {
	return r.getOne(ctx, getDiscountSQL, id)
}

func (r *DiscountRepository) getOne(ctx context.Context, sql string, arg any) (*discount.Code, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding discount code %v: %w", arg, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanDiscountCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrCodeNotFound
		}
		return nil, fmt.Errorf("finding discount code %v: %w", arg, err)
	}
	return &c, nil
}

// List returns every code, newest first.
func (r *DiscountRepository) List(ctx context.Context) ([]discount.Code, error) {
	rows, err := r.pool.Query(ctx, listDiscountsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing discount codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, scanDiscountCode)
	if err != nil {
		return nil, fmt.Errorf("listing discount codes: %w", err)
	}
	return codes, nil
}

// Create inserts c. A duplicate code is reported as discount.ErrCodeExists.
func (r *DiscountRepository) Create(ctx context.Context, c *discount.Code) error {
	_, err := r.pool.Exec(ctx, createDiscountSQL,
		c.ID, c.Code, string(c.Kind), c.Value, c.MaxRedemptions, c.Redemptions, c.Active, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, discountCodeKey) {
			return discount.ErrCodeExists
		}
		return fmt.Errorf("creating discount code %q: %w", c.Code, err)
	}
	return nil
}

// Update overwrites the definition of c. The redemption counter is kept.
func (r *DiscountRepository) Update(ctx context.Context, c *discount.Code) error {
	tag, err := r.pool.Exec(ctx, updateDiscountSQL,
		c.ID, c.Code, string(c.Kind), c.Value, c.MaxRedemptions, c.Active,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, discountCodeKey):
			return discount.ErrCodeExists
		case isCheckViolation(err, discountCeiling):
			return &discount.ValidationError{Field: "max_redeems", Reason: "must not be below the current redemption count"}
		}
		return fmt.Errorf("updating discount code %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrCodeNotFound
	}
	return nil
}

// Delete removes the code with the given id.
func (r *DiscountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, deleteDiscountSQL, id)
	if err != nil {
		return fmt.Errorf("deleting discount code %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrCodeNotFound
	}
	return nil
}

// Import inserts codes that do not exist yet and returns how many were new.
// Existing codes are left untouched.
func (r *DiscountRepository) Import(ctx context.Context, codes []discount.Code) (int64, error) {
	var inserted int64
	for start := 0; start < len(codes); start += importBatchLength {
		end := min(start+importBatchLength, len(codes))

		batch := &pgx.Batch{}
		for _, c := range codes[start:end] {
			batch.Queue(importDiscountSQL, c.ID, c.Code, string(c.Kind), c.Value, c.MaxRedemptions)
		}
		results := r.pool.SendBatch(ctx, batch)
		for range codes[start:end] {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return inserted, fmt.Errorf("importing discount codes: %w", err)
			}
			inserted += tag.RowsAffected()
		}
		if err := results.Close(); err != nil {
			return inserted, fmt.Errorf("importing discount codes: %w", err)
		}
	}
	return inserted, nil
}

// reserveCode increments the redemption counter with one conditional update,
// so concurrent reservations serialize on the row and never pass the ceiling.
func reserveCode(ctx context.Context, q querier, code string) (*discount.Redemption, error) {
	var (
		red  discount.Redemption
		kind string
	)
	err := q.QueryRow(ctx, reserveDiscountSQL, code).Scan(
		&red.CodeID, &red.Code, &kind, &red.Value, &red.Redemptions, &red.MaxRedemptions,
	)
	if err == nil {
		red.Kind = discount.Kind(kind)
		return &red, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reserving discount code %q: %w", code, err)
	}

	// No row was updated: find out why.
	var active bool
	err = q.QueryRow(ctx, reserveMissSQL, code).Scan(&active)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &discount.InvalidCodeError{Code: code, Err: discount.ErrCodeNotFound}
	case err != nil:
		return nil, fmt.Errorf("reserving discount code %q: %w", code, err)
	case !active:
		return nil, &discount.InvalidCodeError{Code: code, Err: discount.ErrCodeInactive}
	default:
		return nil, &discount.InvalidCodeError{Code: code, Err: discount.ErrCodeExhausted}
	}
}

func scanDiscountCode(row pgx.CollectableRow) (discount.Code, error) {
	var (
		c    discount.Code
		kind string
	)
	err := row.Scan(&c.ID, &c.Code, &kind, &c.Value, &c.MaxRedemptions, &c.Redemptions, &c.Active, &c.CreatedAt)
	c.Kind = discount.Kind(kind)
	return c, err
}

func isCheckViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == checkViolation && pgErr.ConstraintName == constraint
}
