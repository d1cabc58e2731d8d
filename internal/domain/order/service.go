package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/bytekart/internal/domain/account"
	"github.com/xenking/bytekart/internal/domain/cart"
	"github.com/xenking/bytekart/internal/domain/discount"
	"github.com/xenking/bytekart/internal/domain/notification"
	"github.com/xenking/bytekart/internal/domain/payment"
	"github.com/xenking/bytekart/internal/domain/pricing"
)

const instrumentationName = "github.com/xenking/bytekart/internal/domain/order"

// Config holds the order lifecycle policy.
type Config struct {
	// Currency is passed to the gateway with every intent.
	Currency string
	// ReturnWindowDays is the number of whole days after creation during which
	// a delivered order may be returned.
	ReturnWindowDays int
	// GatewayTimeout bounds every call to the payment gateway.
	GatewayTimeout time.Duration
	// StrictTransitions makes AdminSetStatus and DecideReturn enforce the
	// transition table. When false, administrators may set any status.
	StrictTransitions bool
	// AdminRecipients receive administrator alerts.
	AdminRecipients []string
}

func (c *Config) setDefaults() {
	if c.Currency == "" {
		c.Currency = "INR"
	}
	if c.ReturnWindowDays <= 0 {
		c.ReturnWindowDays = 7
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 15 * time.Second
	}
}

// Deps are the collaborators of Service.
type Deps struct {
	Store         Store
	Carts         cart.Repository
	Codes         CodeLookup
	Accounts      account.Repository
	Gateway       payment.Gateway
	Notifications *notification.Dispatcher

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

type serviceMetrics struct {
	created           metric.Int64Counter
	paid              metric.Int64Counter
	verifyFailures    metric.Int64Counter
	statusChanges     metric.Int64Counter
	returnsRequested  metric.Int64Counter
	returnsDecided    metric.Int64Counter
	persistenceErrors metric.Int64Counter
}

// Service implements the order lifecycle.
type Service struct {
	store    Store
	carts    cart.Repository
	codes    CodeLookup
	accounts account.Repository
	gateway  payment.Gateway
	notify   *notification.Dispatcher
	cfg      Config

	tracer  trace.Tracer
	metrics serviceMetrics
	now     func() time.Time
}

// NewService creates a Service.
func NewService(deps Deps, cfg Config) (*Service, error) {
	cfg.setDefaults()

	tp := deps.TracerProvider
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	mp := deps.MeterProvider
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	var m serviceMetrics
	for _, c := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.created, "orders.created", "Orders created in PENDING"},
		{&m.paid, "orders.paid", "Orders moved to PAID"},
		{&m.verifyFailures, "orders.payment_verification_failures", "Rejected or failed payment verifications"},
		{&m.statusChanges, "orders.status_changes", "Administrative status changes"},
		{&m.returnsRequested, "orders.returns_requested", "Return requests created"},
		{&m.returnsDecided, "orders.returns_decided", "Return requests decided"},
		{&m.persistenceErrors, "orders.persistence_errors", "Orders lost after the gateway intent was created"},
	} {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, errors.Wrapf(err, "create counter %s", c.name)
		}
		*c.dst = counter
	}

	return &Service{
		store:    deps.Store,
		carts:    deps.Carts,
		codes:    deps.Codes,
		accounts: deps.Accounts,
		gateway:  deps.Gateway,
		notify:   deps.Notifications,
		cfg:      cfg,
		tracer:   tp.Tracer(instrumentationName),
		metrics:  m,
		now:      time.Now,
	}, nil
}

// CreateOrderRequest is the customer's checkout input.
type CreateOrderRequest struct {
	ShippingAddress ShippingAddress
	ShippingFee     decimal.Decimal
	Code            string
}

// CreateOrderResult carries the stored order and the gateway intent the
// client completes payment against.
type CreateOrderResult struct {
	Order  *Order
	Intent *payment.Intent
}

// CreateOrder prices the account's cart, opens a gateway intent and stores a
// PENDING order. The order insert, the checkout details upsert and the
// discount reservation commit in one transaction opened after the gateway call.
func (s *Service) CreateOrder(ctx context.Context, acct *account.Account, req CreateOrderRequest) (*CreateOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder",
		trace.WithAttributes(attribute.String("account.id", acct.ID.String())),
	)
	defer span.End()

	if req.ShippingFee.IsNegative() {
		return nil, pricing.ErrNegativeShippingFee
	}
	if err := req.ShippingAddress.Validate(); err != nil {
		return nil, err
	}

	c, err := s.carts.Get(ctx, acct.ID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if c.IsEmpty() {
		return nil, pricing.ErrEmptyCart
	}
	items := append([]cart.Item(nil), c.Items...)

	var code *discount.Code
	if strings.TrimSpace(req.Code) != "" {
		code, err = s.codes.Lookup(ctx, req.Code)
		if err != nil {
			return nil, err
		}
	}

	quote, err := pricing.ComputeTotal(items, req.ShippingFee, code)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o := &Order{
		ID:              uuid.New(),
		AccountID:       acct.ID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		ShippingFee:     quote.ShippingFee,
		Subtotal:        quote.Subtotal,
		Discount:        quote.Discount,
		DiscountCode:    quote.Code,
		Total:           quote.Total,
		Currency:        s.cfg.Currency,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	intent, err := s.createIntent(ctx, o)
	if err != nil {
		return nil, err
	}
	o.GatewayOrderID = intent.GatewayOrderID

	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Create(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}
		if err := tx.UpsertCheckoutDetails(ctx, acct.ID, o.ShippingAddress.CheckoutDetails()); err != nil {
			return errors.Wrap(err, "upsert checkout details")
		}
		if code == nil {
			return nil
		}
		redemption, err := tx.Reserve(ctx, code.Code)
		if err != nil {
			return err
		}
		if !redemption.Matches(code) {
			return &discount.InvalidCodeError{Code: code.Code, Err: discount.ErrCodeChanged}
		}
		return nil
	})
	if err != nil {
		zctx.From(ctx).Error("Order not persisted, gateway intent left without a local order",
			zap.String("gateway_order_id", o.GatewayOrderID),
			zap.String("order_id", o.ID.String()),
			zap.Error(err),
		)
		var invalid *discount.InvalidCodeError
		if errors.As(err, &invalid) {
			return nil, err
		}
		s.metrics.persistenceErrors.Add(ctx, 1)
		return nil, &PersistenceError{GatewayOrderID: o.GatewayOrderID, Err: err}
	}

	s.metrics.created.Add(ctx, 1)
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID.String()),
		zap.String("gateway_order_id", o.GatewayOrderID),
		zap.String("total", o.Total.StringFixed(2)),
	)
	return &CreateOrderResult{Order: o, Intent: intent}, nil
}

func (s *Service) createIntent(ctx context.Context, o *Order) (*payment.Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	intent, err := s.gateway.CreateIntent(ctx, payment.IntentRequest{
		AmountMinor: payment.MinorUnits(o.Total),
		Currency:    o.Currency,
		Receipt:     o.ID.String(),
	})
	if err != nil {
		if errors.Is(err, payment.ErrGatewayUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", payment.ErrGatewayUnavailable, err)
	}
	return intent, nil
}

// ConfirmResult is the outcome of a verified payment confirmation. Order is
// nil when no order of the caller matches the gateway order id.
type ConfirmResult struct {
	Order *Order
	// Replayed is true when the order was already confirmed with the same payment.
	Replayed bool
}

// ConfirmPayment verifies a completion and moves the matching order from
// PENDING to PAID, clearing the owner's cart in the same transaction.
// Verification always runs first; no path marks an order paid without it.
func (s *Service) ConfirmPayment(ctx context.Context, acct *account.Account, c payment.Completion) (*ConfirmResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.ConfirmPayment",
		trace.WithAttributes(attribute.String("gateway.order_id", c.GatewayOrderID)),
	)
	defer span.End()

	valid, err := s.verify(ctx, c)
	if err != nil {
		s.metrics.verifyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "service")))
		return nil, err
	}
	if !valid {
		s.metrics.verifyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "mismatch")))
		return nil, ErrPaymentVerificationFailed
	}

	var (
		res   ConfirmResult
		fresh bool
	)
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetByGatewayOrderIDForUpdate(ctx, c.GatewayOrderID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "lock order")
		}
		if o.AccountID != acct.ID {
			return nil
		}

		switch {
		case o.Status == StatusPending:
			if err := tx.MarkPaid(ctx, o.ID, c.GatewayPaymentID); err != nil {
				return errors.Wrap(err, "mark paid")
			}
			if err := tx.ClearCart(ctx, o.AccountID); err != nil {
				return errors.Wrap(err, "clear cart")
			}
			o.Status = StatusPaid
			o.GatewayPaymentID = c.GatewayPaymentID
			o.UpdatedAt = s.now().UTC()
			fresh = true
		case o.GatewayPaymentID != "" && o.GatewayPaymentID == c.GatewayPaymentID:
			res.Replayed = true
		default:
			return &InvalidStateError{OrderID: o.ID, Status: o.Status, Op: "confirm payment"}
		}
		res.Order = o
		return nil
	})
	if err != nil {
		var stateErr *InvalidStateError
		if errors.As(err, &stateErr) {
			zctx.From(ctx).Warn("Verified payment for order that is no longer pending",
				zap.String("order_id", stateErr.OrderID.String()),
				zap.String("status", string(stateErr.Status)),
				zap.String("gateway_payment_id", c.GatewayPaymentID),
			)
			return nil, err
		}
		return nil, &UpdateError{Op: "confirm payment", Err: err}
	}

	if res.Order == nil {
		zctx.From(ctx).Info("Verified payment matched no order", zap.String("gateway_order_id", c.GatewayOrderID))
		return &res, nil
	}
	if fresh {
		s.metrics.paid.Add(ctx, 1)
		s.notifyPaid(ctx, acct, res.Order)
	}
	return &res, nil
}

func (s *Service) verify(ctx context.Context, c payment.Completion) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	ok, err := s.gateway.VerifyCompletion(ctx, c)
	if err != nil {
		zctx.From(ctx).Error("Payment verification service error", zap.Error(err))
		if errors.Is(err, payment.ErrVerificationService) {
			return false, err
		}
		return false, fmt.Errorf("%w: %w", payment.ErrVerificationService, err)
	}
	return ok, nil
}

// AdminSetStatus moves an order to status. The transition table is enforced
// only when Config.StrictTransitions is set. The owner is notified when the
// status actually changes.
func (s *Service) AdminSetStatus(ctx context.Context, orderID uuid.UUID, status Status) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.AdminSetStatus",
		trace.WithAttributes(
			attribute.String("order.id", orderID.String()),
			attribute.String("order.status", string(status)),
		),
	)
	defer span.End()

	var (
		o       *Order
		changed bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == status {
			return nil
		}
		if s.cfg.StrictTransitions && !CanTransition(o.Status, status) {
			return &TransitionError{OrderID: o.ID, From: o.Status, To: status}
		}
		if err := tx.UpdateStatus(ctx, o.ID, status); err != nil {
			return errors.Wrap(err, "update status")
		}
		o.Status = status
		o.UpdatedAt = s.now().UTC()
		changed = true
		return nil
	})
	if err != nil {
		if IsClientError(err) {
			return nil, err
		}
		return nil, &UpdateError{Op: "set order status", Err: err}
	}

	if changed {
		s.metrics.statusChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
		s.notifyStatusChange(ctx, o)
	}
	return o, nil
}

// ListOrders returns the account's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, acct *account.Account) ([]Order, error) {
	orders, err := s.store.ListByAccount(ctx, acct.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// GetOrder returns one of the account's orders. Orders of other accounts are
// reported as ErrNotFound.
func (s *Service) GetOrder(ctx context.Context, acct *account.Account, id uuid.UUID) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	if o.AccountID != acct.ID {
		return nil, ErrNotFound
	}
	return o, nil
}

// AdminListOrders returns every order, newest first.
func (s *Service) AdminListOrders(ctx context.Context) ([]Order, error) {
	orders, err := s.store.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list all orders")
	}
	return orders, nil
}
