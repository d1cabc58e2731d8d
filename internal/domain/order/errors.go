package order

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for a missing order and for an order owned by
	// someone else; the two cases are indistinguishable to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrReturnNotFound is returned for a missing return request.
	ErrReturnNotFound = errors.New("return request not found")
	// ErrPaymentVerificationFailed is returned when a completion signature does not match.
	ErrPaymentVerificationFailed = errors.New("signature verification failed")
	// ErrWindowExpired is returned when a return is requested too long after the order.
	ErrWindowExpired = errors.New("return window has expired")
	// ErrDuplicateRequest is returned when the order already has a return request.
	ErrDuplicateRequest = errors.New("a return request for this order already exists")
	// ErrReasonRequired is returned for a blank return reason.
	ErrReasonRequired = errors.New("return reason is required")
	// ErrInvalidDecision is returned for a decision other than APPROVED or REJECTED.
	ErrInvalidDecision = errors.New("decision must be APPROVED or REJECTED")
	// ErrReturnDecided is returned when deciding a request that is no longer pending.
	ErrReturnDecided = errors.New("return request has already been decided")
)

// InvalidStateError indicates the order is not in the status an operation requires.
type InvalidStateError struct {
	OrderID uuid.UUID
	Status  Status
	Op      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: order %s is %s", e.Op, e.OrderID, e.Status)
}

// TransitionError indicates a move outside the transition table.
type TransitionError struct {
	OrderID uuid.UUID
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: transition %s -> %s not allowed", e.OrderID, e.From, e.To)
}

// PersistenceError indicates the order could not be stored after the gateway
// intent was created. GatewayOrderID identifies the orphaned intent.
type PersistenceError struct {
	GatewayOrderID string
	Err            error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist order for gateway order %s: %v", e.GatewayOrderID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// UpdateError indicates a transition was rolled back by a storage failure.
type UpdateError struct {
	Op  string
	Err error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// IsClientError reports whether err is caused by the request rather than by
// infrastructure.
func IsClientError(err error) bool {
	var (
		stateErr      *InvalidStateError
		transitionErr *TransitionError
	)
	switch {
	case errors.As(err, &stateErr), errors.As(err, &transitionErr):
		return true
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrReturnNotFound),
		errors.Is(err, ErrPaymentVerificationFailed),
		errors.Is(err, ErrWindowExpired),
		errors.Is(err, ErrDuplicateRequest),
		errors.Is(err, ErrReasonRequired),
		errors.Is(err, ErrInvalidDecision),
		errors.Is(err, ErrReturnDecided):
		return true
	}
	return false
}
