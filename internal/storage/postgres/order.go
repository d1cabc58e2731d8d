package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bytekart/internal/domain/account"
	"github.com/xenking/bytekart/internal/domain/discount"
	"github.com/xenking/bytekart/internal/domain/order"
)

const (
	orderColumns = `id, account_id, gateway_order_id, COALESCE(gateway_payment_id, ''), items, shipping_address,
		shipping_fee, subtotal, discount, COALESCE(discount_code, ''), total_amount, currency, status, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (id, account_id, gateway_order_id, items, shipping_address,
		shipping_fee, subtotal, discount, discount_code, total_amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12, $13, $14)`

	getOrderSQL              = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderForUpdateSQL     = getOrderSQL + ` FOR UPDATE`
	getOrderByGatewayLockSQL = `SELECT ` + orderColumns + ` FROM orders WHERE gateway_order_id = $1 FOR UPDATE`
	listOrdersByAccountSQL   = `SELECT ` + orderColumns + ` FROM orders WHERE account_id = $1 ORDER BY created_at DESC`
	listOrdersSQL            = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC`
	listStalePendingSQL      = `SELECT ` + orderColumns + ` FROM orders
		WHERE status = 'PENDING' AND created_at < $1 ORDER BY created_at LIMIT $2`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`
	markOrderPaidSQL     = `UPDATE orders SET status = $2, gateway_payment_id = $3, updated_at = now() WHERE id = $1`

	returnColumns = `id, order_id, account_id, reason, status, created_at, decided_at`

	insertReturnSQL = `INSERT INTO return_requests (id, order_id, account_id, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	findReturnByOrderSQL  = `SELECT ` + returnColumns + ` FROM return_requests WHERE order_id = $1`
	getReturnForUpdateSQL = `SELECT ` + returnColumns + ` FROM return_requests WHERE id = $1 FOR UPDATE`
	decideReturnSQL       = `UPDATE return_requests SET status = $2, decided_at = $3 WHERE id = $1`

	listReturnsSQL = `SELECT r.id, r.order_id, r.account_id, r.reason, r.status, r.created_at, r.decided_at,
		a.name, a.email, o.total_amount, o.items
		FROM return_requests r
		JOIN orders o ON o.id = r.order_id
		JOIN accounts a ON a.id = r.account_id
		ORDER BY r.created_at DESC`

	returnOrderKey = "return_requests_order_id_key"
)

var (
	_ order.Store = (*OrderStore)(nil)
	_ order.Tx    = (*orderTx)(nil)
)

// OrderStore implements order.Store backed by PostgreSQL. Transactions run at
// READ COMMITTED; the *ForUpdate reads take row locks.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// InTx runs fn in a transaction that commits when fn returns nil.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &orderTx{q: tx})
	})
}

// Get returns the order with the given id or order.ErrNotFound.
func (s *OrderStore) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return getOrder(ctx, s.pool, getOrderSQL, id)
}

// ListByAccount returns the account's orders, newest first.
func (s *OrderStore) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]order.Order, error) {
	return listOrders(ctx, s.pool, listOrdersByAccountSQL, accountID)
}

// List returns every order, newest first.
func (s *OrderStore) List(ctx context.Context) ([]order.Order, error) {
	return listOrders(ctx, s.pool, listOrdersSQL)
}

// ListStalePending returns PENDING orders created before cutoff, oldest first.
func (s *OrderStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]order.Order, error) {
	return listOrders(ctx, s.pool, listStalePendingSQL, cutoff, limit)
}

// ListReturns returns every return request joined with its customer and order.
func (s *OrderStore) ListReturns(ctx context.Context) ([]order.ReturnView, error) {
	rows, err := s.pool.Query(ctx, listReturnsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing return requests: %w", err)
	}
	views, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.ReturnView, error) {
		var (
			v      order.ReturnView
			status string
			items  []byte
		)
		err := row.Scan(
			&v.ID, &v.OrderID, &v.AccountID, &v.Reason, &status, &v.CreatedAt, &v.DecidedAt,
			&v.CustomerName, &v.CustomerEmail, &v.OrderTotal, &items,
		)
		if err != nil {
			return v, err
		}
		v.Status = order.ReturnStatus(status)
		if err := json.Unmarshal(items, &v.OrderItems); err != nil {
			return v, fmt.Errorf("unmarshaling order items: %w", err)
		}
		return v, nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing return requests: %w", err)
	}
	return views, nil
}

type orderTx struct {
	q querier
}

func (t *orderTx) Reserve(ctx context.Context, code string) (*discount.Redemption, error) {
	return reserveCode(ctx, t.q, code)
}

func (t *orderTx) Create(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}

	_, err = t.q.Exec(ctx, insertOrderSQL,
		o.ID, o.AccountID, o.GatewayOrderID, items, address,
		o.ShippingFee, o.Subtotal, o.Discount, o.DiscountCode, o.Total,
		o.Currency, string(o.Status), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func (t *orderTx) UpsertCheckoutDetails(ctx context.Context, accountID uuid.UUID, d account.CheckoutDetails) error {
	return upsertCheckoutDetails(ctx, t.q, accountID, d)
}

func (t *orderTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return getOrder(ctx, t.q, getOrderForUpdateSQL, id)
}

func (t *orderTx) GetByGatewayOrderIDForUpdate(ctx context.Context, gatewayOrderID string) (*order.Order, error) {
	return getOrder(ctx, t.q, getOrderByGatewayLockSQL, gatewayOrderID)
}

func (t *orderTx) UpdateStatus(ctx context.Context, id uuid.UUID, status order.Status) error {
	tag, err := t.q.Exec(ctx, updateOrderStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (t *orderTx) MarkPaid(ctx context.Context, id uuid.UUID, gatewayPaymentID string) error {
	tag, err := t.q.Exec(ctx, markOrderPaidSQL, id, string(order.StatusPaid), gatewayPaymentID)
	if err != nil {
		return fmt.Errorf("marking order %q paid: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (t *orderTx) ClearCart(ctx context.Context, accountID uuid.UUID) error {
	return clearCart(ctx, t.q, accountID)
}

func (t *orderTx) CreateReturn(ctx context.Context, r *order.ReturnRequest) error {
	_, err := t.q.Exec(ctx, insertReturnSQL, r.ID, r.OrderID, r.AccountID, r.Reason, string(r.Status), r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, returnOrderKey) {
			return order.ErrDuplicateRequest
		}
		return fmt.Errorf("creating return request for order %q: %w", r.OrderID, err)
	}
	return nil
}

func (t *orderTx) FindReturnByOrder(ctx context.Context, orderID uuid.UUID) (*order.ReturnRequest, error) {
	return getReturn(ctx, t.q, findReturnByOrderSQL, orderID)
}

func (t *orderTx) GetReturnForUpdate(ctx context.Context, id uuid.UUID) (*order.ReturnRequest, error) {
	return getReturn(ctx, t.q, getReturnForUpdateSQL, id)
}

func (t *orderTx) DecideReturn(ctx context.Context, id uuid.UUID, status order.ReturnStatus, decidedAt time.Time) error {
	tag, err := t.q.Exec(ctx, decideReturnSQL, id, string(status), decidedAt)
	if err != nil {
		return fmt.Errorf("deciding return request %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrReturnNotFound
	}
	return nil
}

func getOrder(ctx context.Context, q querier, sql string, arg any) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %v: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %v: %w", arg, err)
	}
	return &o, nil
}

func listOrders(ctx context.Context, q querier, sql string, args ...any) ([]order.Order, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o              order.Order
		status         string
		items, address []byte
	)
	err := row.Scan(
		&o.ID, &o.AccountID, &o.GatewayOrderID, &o.GatewayPaymentID, &items, &address,
		&o.ShippingFee, &o.Subtotal, &o.Discount, &o.DiscountCode, &o.Total,
		&o.Currency, &status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return o, fmt.Errorf("unmarshaling shipping address: %w", err)
	}
	return o, nil
}

func getReturn(ctx context.Context, q querier, sql string, arg any) (*order.ReturnRequest, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting return request %v: %w", arg, err)
	}
	r, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (order.ReturnRequest, error) {
		var (
			r      order.ReturnRequest
			status string
		)
		err := row.Scan(&r.ID, &r.OrderID, &r.AccountID, &r.Reason, &status, &r.CreatedAt, &r.DecidedAt)
		r.Status = order.ReturnStatus(status)
		return r, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrReturnNotFound
		}
		return nil, fmt.Errorf("getting return request %v: %w", arg, err)
	}
	return &r, nil
}
