package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bytekart/internal/domain/payment"
)

// SweeperConfig controls the stale PENDING order sweep.
type SweeperConfig struct {
	// PendingTTL is how long an order may stay PENDING before it is failed.
	PendingTTL time.Duration
	// Interval between sweeps.
	Interval time.Duration
	// BatchSize caps the orders examined per sweep.
	BatchSize int
}

// Sweeper fails orders whose payment was never completed. An order the
// gateway reports as paid is left PENDING: payment is only ever accepted
// through signature verification.
type Sweeper struct {
	store   Store
	gateway payment.Gateway
	cfg     SweeperConfig
	now     func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(store Store, gateway payment.Gateway, cfg SweeperConfig) *Sweeper {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{store: store, gateway: gateway, cfg: cfg, now: time.Now}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				zctx.From(ctx).Error("Pending order sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zctx.From(ctx).Info("Expired stale pending orders", zap.Int("count", n))
			}
		}
	}
}

// Sweep runs one pass and returns the number of orders moved to FAILED.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.cfg.PendingTTL)
	stale, err := s.store.ListStalePending(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "list stale orders")
	}

	var expired int
	for _, o := range stale {
		lg := zctx.From(ctx).With(
			zap.String("order_id", o.ID.String()),
			zap.String("gateway_order_id", o.GatewayOrderID),
		)

		intent, err := s.gateway.LookupIntent(ctx, o.GatewayOrderID)
		switch {
		case errors.Is(err, payment.ErrIntentNotFound):
		case err != nil:
			lg.Warn("Gateway lookup failed, order left pending", zap.Error(err))
			continue
		case intent.Status == payment.IntentPaid:
			lg.Warn("Gateway reports payment for unconfirmed order, order left pending")
			continue
		case intent.Status == payment.IntentAttempted:
			// The customer started paying; a late capture may still confirm it.
			lg.Info("Payment attempt in flight, order left pending")
			continue
		}

		ok, err := s.expire(ctx, o)
		if err != nil {
			lg.Error("Failed to expire order", zap.Error(err))
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *Sweeper) expire(ctx context.Context, o Order) (bool, error) {
	var expired bool
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.GetForUpdate(ctx, o.ID)
		if err != nil {
			return err
		}
		if current.Status != StatusPending {
			return nil
		}
		if err := tx.UpdateStatus(ctx, o.ID, StatusFailed); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}
