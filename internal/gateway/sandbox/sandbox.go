// Package sandbox is an in-process payment.Gateway for local runs and
// black-box tests. It signs completions with the same scheme as the real
// gateway, so orders still only become paid through signature verification.
package sandbox

import (
	"context"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/oklog/ulid/v2"

	"github.com/xenking/bytekart/internal/domain/payment"
)

// PublicKey is reported to clients in sandbox mode.
const PublicKey = "sandbox_key"

// Gateway keeps intents in memory.
type Gateway struct {
	secret string

	mu      sync.Mutex
	intents map[string]*payment.Intent
}

var _ payment.Gateway = (*Gateway)(nil)

// New creates a Gateway signing with secret.
func New(secret string) (*Gateway, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("sandbox: signing secret is required")
	}
	return &Gateway{secret: secret, intents: map[string]*payment.Intent{}}, nil
}

// CreateIntent implements payment.Gateway.
func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "sandbox")
	}
	intent := &payment.Intent{
		GatewayOrderID: "order_" + ulid.Make().String(),
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		Status:         payment.IntentCreated,
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[intent.GatewayOrderID] = intent
	cp := *intent
	return &cp, nil
}

// VerifyCompletion implements payment.Gateway.
func (g *Gateway) VerifyCompletion(_ context.Context, c payment.Completion) (bool, error) {
	return payment.VerifySignature(g.secret, c)
}

// LookupIntent implements payment.Gateway.
func (g *Gateway) LookupIntent(_ context.Context, gatewayOrderID string) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[gatewayOrderID]
	if !ok {
		return nil, errors.Wrap(payment.ErrIntentNotFound, gatewayOrderID)
	}
	cp := *intent
	return &cp, nil
}

// PublicKey implements payment.Gateway.
func (g *Gateway) PublicKey() string {
	return PublicKey
}

// Pay simulates the customer completing checkout: the intent is marked paid
// and a signed completion is returned for the client to submit.
func (g *Gateway) Pay(gatewayOrderID string) (*payment.Completion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[gatewayOrderID]
	if !ok {
		return nil, errors.Wrap(payment.ErrIntentNotFound, gatewayOrderID)
	}

	paymentID := "pay_" + ulid.Make().String()
	sig, err := payment.Sign(g.secret, gatewayOrderID, paymentID)
	if err != nil {
		return nil, err
	}
	intent.Status = payment.IntentPaid
	return &payment.Completion{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        sig,
	}, nil
}
