package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/bytekart/internal/domain/account"
)

const day = 24 * time.Hour

// withinWindow reports whether created is at most ReturnWindowDays whole days
// before now.
func (s *Service) withinWindow(created, now time.Time) bool {
	days := int(now.Sub(created) / day)
	return days <= s.cfg.ReturnWindowDays
}

// RequestReturn opens a return for a delivered order. Preconditions are
// checked in order: ownership, DELIVERED status, the return window and
// uniqueness. The request and the RETURN_REQUESTED transition commit together.
func (s *Service) RequestReturn(ctx context.Context, acct *account.Account, orderID uuid.UUID, reason string) (*ReturnRequest, error) {
	ctx, span := s.tracer.Start(ctx, "order.RequestReturn",
		trace.WithAttributes(attribute.String("order.id", orderID.String())),
	)
	defer span.End()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	var (
		o *Order
		r *ReturnRequest
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.AccountID != acct.ID {
			return ErrNotFound
		}

		existing, err := tx.FindReturnByOrder(ctx, o.ID)
		if err != nil && !errors.Is(err, ErrReturnNotFound) {
			return errors.Wrap(err, "find return request")
		}

		if o.Status != StatusDelivered {
			// A second request while the first is open reports the more
			// specific duplicate error.
			if existing != nil && o.Status == StatusReturnRequested {
				return ErrDuplicateRequest
			}
			return &InvalidStateError{OrderID: o.ID, Status: o.Status, Op: "request return"}
		}
		now := s.now().UTC()
		if !s.withinWindow(o.CreatedAt, now) {
			return ErrWindowExpired
		}
		if existing != nil {
			return ErrDuplicateRequest
		}

		r = &ReturnRequest{
			ID:        uuid.New(),
			OrderID:   o.ID,
			AccountID: acct.ID,
			Reason:    reason,
			Status:    ReturnPending,
			CreatedAt: now,
		}
		if err := tx.CreateReturn(ctx, r); err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, o.ID, StatusReturnRequested); err != nil {
			return errors.Wrap(err, "update status")
		}
		o.Status = StatusReturnRequested
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		if IsClientError(err) {
			return nil, err
		}
		return nil, &UpdateError{Op: "request return", Err: err}
	}

	s.metrics.returnsRequested.Add(ctx, 1)
	s.notifyReturnRequested(ctx, acct, o, r)
	return r, nil
}

// DecideReturn approves or rejects a pending return. Approval moves the order
// to RETURNED, rejection back to DELIVERED.
func (s *Service) DecideReturn(ctx context.Context, returnID uuid.UUID, decision ReturnStatus) (*ReturnRequest, error) {
	ctx, span := s.tracer.Start(ctx, "order.DecideReturn",
		trace.WithAttributes(
			attribute.String("return.id", returnID.String()),
			attribute.String("return.decision", string(decision)),
		),
	)
	defer span.End()

	var target Status
	switch decision {
	case ReturnApproved:
		target = StatusReturned
	case ReturnRejected:
		target = StatusDelivered
	default:
		return nil, ErrInvalidDecision
	}

	var (
		o *Order
		r *ReturnRequest
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		r, err = tx.GetReturnForUpdate(ctx, returnID)
		if err != nil {
			return err
		}
		if r.Status != ReturnPending {
			return ErrReturnDecided
		}
		o, err = tx.GetForUpdate(ctx, r.OrderID)
		if err != nil {
			return errors.Wrap(err, "lock order")
		}
		if s.cfg.StrictTransitions && !CanTransition(o.Status, target) {
			return &TransitionError{OrderID: o.ID, From: o.Status, To: target}
		}

		now := s.now().UTC()
		if err := tx.DecideReturn(ctx, r.ID, decision, now); err != nil {
			return errors.Wrap(err, "decide return")
		}
		if err := tx.UpdateStatus(ctx, o.ID, target); err != nil {
			return errors.Wrap(err, "update status")
		}
		r.Status = decision
		r.DecidedAt = &now
		o.Status = target
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		if IsClientError(err) {
			return nil, err
		}
		return nil, &UpdateError{Op: "decide return", Err: err}
	}

	s.metrics.returnsDecided.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", string(decision))))
	s.notifyReturnDecision(ctx, o, r)
	return r, nil
}

// AdminListReturns returns every return request with its customer and order.
func (s *Service) AdminListReturns(ctx context.Context) ([]ReturnView, error) {
	views, err := s.store.ListReturns(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list returns")
	}
	return views, nil
}
