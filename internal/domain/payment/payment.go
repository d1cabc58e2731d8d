// Package payment defines the boundary between the order lifecycle and an
// external payment gateway.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrGatewayUnavailable is returned when a payment intent could not be created.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrVerificationService is returned when the signature could not be
	// computed or checked. Unlike a mismatch it is retryable.
	ErrVerificationService = errors.New("payment verification service error")
	// ErrIntentNotFound is returned by LookupIntent for an unknown gateway order.
	ErrIntentNotFound = errors.New("payment intent not found")
)

// IntentStatus is the gateway-side state of a payment intent.
type IntentStatus string

const (
	IntentCreated   IntentStatus = "created"
	IntentAttempted IntentStatus = "attempted"
	IntentPaid      IntentStatus = "paid"
)

// IntentRequest asks the gateway to open a payment for an amount in minor units.
type IntentRequest struct {
	AmountMinor int64
	Currency    string
	// Receipt is an opaque local reference echoed back by the gateway.
	Receipt string
}

// Intent is a payment opened at the gateway.
type Intent struct {
	GatewayOrderID string
	AmountMinor    int64
	Currency       string
	Status         IntentStatus
}

// Completion is the proof a client returns after paying at the gateway.
type Completion struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// Gateway creates payment intents and verifies completion callbacks.
// Implementations never touch order state.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	// VerifyCompletion returns false with a nil error on a signature mismatch.
	VerifyCompletion(ctx context.Context, c Completion) (bool, error)
	LookupIntent(ctx context.Context, gatewayOrderID string) (*Intent, error)
	// PublicKey is the key identifier clients need to open the checkout widget.
	PublicKey() string
}

var hundred = decimal.NewFromInt(100)

// MinorUnits converts an amount to the gateway's minor unit, truncating after
// rounding to the nearest unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// Sign returns the hex encoded HMAC-SHA256 of "orderID|paymentID".
func Sign(secret, gatewayOrderID, gatewayPaymentID string) (string, error) {
	if secret == "" {
		return "", errors.Wrap(ErrVerificationService, "signing secret not configured")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature recomputes the expected signature and compares it in
// constant time.
func VerifySignature(secret string, c Completion) (bool, error) {
	expected, err := Sign(secret, c.GatewayOrderID, c.GatewayPaymentID)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(c.Signature)), nil
}
