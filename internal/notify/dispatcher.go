// Package notify delivers order notifications off the request path.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/storefront/checkout/internal/domain/notify"
)

// ErrSaturated is returned when all delivery slots are busy.
var ErrSaturated = errors.New("notification dispatcher is saturated")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("notification dispatcher is closed")

// Config bounds delivery.
type Config struct {
	// Concurrency is the number of deliveries in flight.
	Concurrency int
	// Timeout bounds a single delivery.
	Timeout time.Duration
}

// Dispatcher runs deliveries of the wrapped Notifier in the background. Every
// method returns immediately; delivery errors are logged, never returned.
type Dispatcher struct {
	next    notify.Notifier
	group   errgroup.Group
	timeout time.Duration

	// mu orders TryGo against Close so no delivery starts once Wait runs.
	mu     sync.RWMutex
	closed bool
}

var _ notify.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher delivering through next.
func NewDispatcher(next notify.Notifier, cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	d := &Dispatcher{next: next, timeout: cfg.Timeout}
	d.group.SetLimit(cfg.Concurrency)
	return d
}

func (d *Dispatcher) dispatch(ctx context.Context, kind string, o notify.Order, send func(context.Context, notify.Order) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	// Delivery outlives the request.
	ctx = context.WithoutCancel(ctx)
	lg := zctx.From(ctx).With(
		zap.String("notification", kind),
		zap.String("order_id", o.ID),
	)

	started := d.group.TryGo(func() error {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		if err := send(ctx, o); err != nil {
			lg.Warn("Notification delivery failed", zap.Error(err))
			return nil
		}
		lg.Debug("Notification delivered")
		return nil
	})
	if !started {
		lg.Warn("Notification dropped, dispatcher saturated")
		return ErrSaturated
	}
	return nil
}

func (d *Dispatcher) OrderPlaced(ctx context.Context, o notify.Order) error {
	return d.dispatch(ctx, "order_placed", o, d.next.OrderPlaced)
}

func (d *Dispatcher) AdminNewOrder(ctx context.Context, o notify.Order) error {
	return d.dispatch(ctx, "admin_new_order", o, d.next.AdminNewOrder)
}

func (d *Dispatcher) PaymentConfirmed(ctx context.Context, o notify.Order) error {
	return d.dispatch(ctx, "payment_confirmed", o, d.next.PaymentConfirmed)
}

func (d *Dispatcher) PaymentFailed(ctx context.Context, o notify.Order) error {
	return d.dispatch(ctx, "payment_failed", o, d.next.PaymentFailed)
}

func (d *Dispatcher) StatusChanged(ctx context.Context, o notify.Order) error {
	return d.dispatch(ctx, "status_changed", o, d.next.StatusChanged)
}

// Close stops accepting deliveries and waits for in-flight ones until ctx is
// done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for notifications")
	}
}
