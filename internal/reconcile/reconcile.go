// Package reconcile applies payment provider events to orders and stock.
//
// Provider delivery is at-least-once. An event is applied inside one
// transaction that records its id in the processed-event log, moves the order
// and, on the first successful payment only, takes the items out of stock.
// Replays find the event id already recorded and are acknowledged untouched.
package reconcile

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/storefront/checkout/internal/apperr"
	"github.com/storefront/checkout/internal/domain/inventory"
	"github.com/storefront/checkout/internal/domain/notify"
	"github.com/storefront/checkout/internal/domain/order"
	"github.com/storefront/checkout/internal/domain/payment"
)

// Outcome describes what happened to an acknowledged event.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Ledger is the order state machine.
type Ledger interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	MarkPaid(ctx context.Context, id, paymentID string) (bool, error)
	MarkFailed(ctx context.Context, id string) (bool, error)
}

// Inventory takes paid items out of stock.
type Inventory interface {
	DecrementLines(ctx context.Context, lines []inventory.Line) error
}

// EventLog is the processed-event ledger.
type EventLog interface {
	// Record stores the event id and reports false if it was already stored.
	Record(ctx context.Context, eventID, eventType string) (bool, error)
}

// Secrets resolves the webhook signing secret.
type Secrets interface {
	WebhookSecret(ctx context.Context) (string, error)
}

// Deps groups the collaborators of Reconciler.
type Deps struct {
	Gateway   payment.Gateway
	Secrets   Secrets
	Tx        order.Transactor
	Events    EventLog
	Ledger    Ledger
	Inventory Inventory
	Notifier  notify.Notifier
	Meter     metric.Meter
}

// Reconciler handles webhook deliveries.
type Reconciler struct {
	gateway   payment.Gateway
	secrets   Secrets
	tx        order.Transactor
	events    EventLog
	ledger    Ledger
	inventory Inventory
	notifier  notify.Notifier
	counter   metric.Int64Counter
}

// New creates a Reconciler.
func New(deps Deps) (*Reconciler, error) {
	counter, err := deps.Meter.Int64Counter("store.webhook.events",
		metric.WithDescription("Payment webhook deliveries by event type and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create webhook counter")
	}
	return &Reconciler{
		gateway:   deps.Gateway,
		secrets:   deps.Secrets,
		tx:        deps.Tx,
		events:    deps.Events,
		ledger:    deps.Ledger,
		inventory: deps.Inventory,
		notifier:  deps.Notifier,
		counter:   counter,
	}, nil
}

// Handle verifies and applies one delivery. A nil error means the delivery
// must be acknowledged; an error means the provider should retry, except for
// signature errors which are final.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	lg := zctx.From(ctx)

	secret, err := r.secrets.WebhookSecret(ctx)
	if err != nil {
		r.count(ctx, payment.EventUnknown, OutcomeFailed)
		return OutcomeFailed, apperr.Classify("load webhook secret", err)
	}
	if secret == "" {
		lg.Error("Webhook secret is not configured")
		r.count(ctx, payment.EventUnknown, OutcomeRejected)
		return OutcomeRejected, apperr.Signature(errors.New("webhook secret is not configured"))
	}

	ev, err := r.gateway.VerifyEvent(payload, signatureHeader, secret)
	if err != nil && apperr.KindOf(err) == apperr.KindValidation {
		// Signed by the provider, so a redelivery carries the same bytes.
		lg.Warn("Webhook payload unparseable", zap.Error(err))
		r.count(ctx, payment.EventUnknown, OutcomeIgnored)
		return OutcomeIgnored, nil
	}
	if err != nil {
		lg.Warn("Webhook signature rejected", zap.Bool("security", true), zap.Error(err))
		r.count(ctx, payment.EventUnknown, OutcomeRejected)
		if apperr.KindOf(err) != apperr.KindSignature {
			err = apperr.Signature(err)
		}
		return OutcomeRejected, err
	}

	lg = lg.With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.RawType),
		zap.String("order_id", ev.OrderID),
	)
	ctx = zctx.Base(ctx, lg)

	var outcome Outcome
	switch ev.Type {
	case payment.EventPaymentSucceeded:
		outcome, err = r.succeeded(ctx, ev)
	case payment.EventPaymentFailed:
		outcome, err = r.failed(ctx, ev)
	case payment.EventCheckoutCompleted:
		lg.Info("Checkout completed")
		outcome = OutcomeIgnored
	default:
		lg.Debug("Ignoring webhook event")
		outcome = OutcomeIgnored
	}
	if err != nil {
		lg.Error("Webhook processing failed", zap.Error(err))
		r.count(ctx, ev.Type, OutcomeFailed)
		return OutcomeFailed, err
	}

	r.count(ctx, ev.Type, outcome)
	return outcome, nil
}

func (r *Reconciler) succeeded(ctx context.Context, ev *payment.Event) (Outcome, error) {
	lg := zctx.From(ctx)
	if ev.OrderID == "" {
		lg.Warn("Payment event without order id")
		return OutcomeIgnored, nil
	}

	var (
		outcome = OutcomeDuplicate
		paid    *order.Order
	)
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		recorded, err := r.events.Record(ctx, ev.ID, ev.RawType)
		if err != nil {
			return apperr.Classify("record webhook event", err)
		}
		if !recorded {
			return nil
		}

		first, err := r.ledger.MarkPaid(ctx, ev.OrderID, ev.PaymentID)
		switch {
		case errors.Is(err, order.ErrNotFound):
			lg.Warn("Payment event for unknown order")
			outcome = OutcomeIgnored
			return nil
		case errors.Is(err, order.ErrPaymentConflict):
			lg.Error("Second payment for a paid order", zap.String("payment_id", ev.PaymentID), zap.Error(err))
			outcome = OutcomeIgnored
			return nil
		case err != nil:
			return err
		case !first:
			return nil
		}

		o, err := r.ledger.Get(ctx, ev.OrderID)
		if err != nil {
			return err
		}
		outcome = OutcomeProcessed
		if o.Status == order.StatusCancelled {
			// Stock was never taken for this order; the payment needs a refund.
			lg.Warn("Payment received for cancelled order", zap.String("payment_id", ev.PaymentID))
			return nil
		}
		lines := make([]inventory.Line, 0, len(o.Items))
		for _, it := range o.Items {
			lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
		}
		if err := r.inventory.DecrementLines(ctx, lines); err != nil {
			return err
		}
		paid = o
		return nil
	})
	if err != nil {
		return OutcomeFailed, err
	}

	if paid != nil {
		lg.Info("Order paid", zap.String("payment_id", ev.PaymentID), zap.Int("lines", len(paid.Items)))
		if err := r.notifier.PaymentConfirmed(ctx, paid.Notification()); err != nil {
			lg.Warn("Payment confirmation not sent", zap.Error(err))
		}
	}
	return outcome, nil
}

func (r *Reconciler) failed(ctx context.Context, ev *payment.Event) (Outcome, error) {
	lg := zctx.From(ctx)
	if ev.OrderID == "" {
		lg.Warn("Payment event without order id")
		return OutcomeIgnored, nil
	}

	var (
		outcome = OutcomeDuplicate
		failed  *order.Order
	)
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		recorded, err := r.events.Record(ctx, ev.ID, ev.RawType)
		if err != nil {
			return apperr.Classify("record webhook event", err)
		}
		if !recorded {
			return nil
		}

		first, err := r.ledger.MarkFailed(ctx, ev.OrderID)
		switch {
		case errors.Is(err, order.ErrNotFound):
			lg.Warn("Payment event for unknown order")
			outcome = OutcomeIgnored
			return nil
		case err != nil:
			return err
		case !first:
			return nil
		}

		o, err := r.ledger.Get(ctx, ev.OrderID)
		if err != nil {
			return err
		}
		outcome = OutcomeProcessed
		failed = o
		return nil
	})
	if err != nil {
		return OutcomeFailed, err
	}

	if failed != nil {
		lg.Info("Order payment failed", zap.String("reason", ev.FailureMessage))
		n := failed.Notification()
		n.Reason = ev.FailureMessage
		if err := r.notifier.PaymentFailed(ctx, n); err != nil {
			lg.Warn("Payment failure notice not sent", zap.Error(err))
		}
	}
	return outcome, nil
}

func (r *Reconciler) count(ctx context.Context, t payment.EventType, outcome Outcome) {
	r.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(t)),
		attribute.String("outcome", string(outcome)),
	))
}
