package notification

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// Dispatcher hands events to a Notifier in the background. Failures are logged
// and swallowed; they never reach the caller.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. A non-positive timeout selects DefaultTimeout.
func NewDispatcher(n Notifier, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{notifier: n, timeout: timeout, now: time.Now}
}

// Dispatch sends events asynchronously. The request context only supplies the
// logger; cancellation of ctx does not abort delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, events ...Event) {
	if d == nil || d.notifier == nil || len(events) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, e := range events {
		if e.ID == "" {
			e.ID = ulid.Make().String()
		}
		if e.OccurredAt.IsZero() {
			e.OccurredAt = d.now().UTC()
		}
		d.wg.Add(1)
		go d.deliver(base, e)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	defer d.wg.Done()
	lg := zctx.From(ctx).With(
		zap.String("event_id", e.ID),
		zap.String("kind", string(e.Kind)),
		zap.String("order_id", e.OrderID),
	)
	defer func() {
		if r := recover(); r != nil {
			lg.Error("Notification panicked", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, e); err != nil {
		lg.Error("Notification failed", zap.Error(err))
		return
	}
	lg.Debug("Notification sent")
}

// Wait blocks until all in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LogNotifier writes events to a logger. It is used when no broker is configured.
type LogNotifier struct {
	lg *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(lg *zap.Logger) *LogNotifier {
	return &LogNotifier{lg: lg}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, e Event) error {
	n.lg.Info("Notification",
		zap.String("event_id", e.ID),
		zap.String("kind", string(e.Kind)),
		zap.String("template", e.Template),
		zap.String("recipient", e.Recipient),
		zap.String("order_id", e.OrderID),
		zap.String("status", e.Status),
	)
	return nil
}
