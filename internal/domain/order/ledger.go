package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storefront/checkout/internal/apperr"
)

const numberAttempts = 3

// Ledger is the only writer of order rows after creation.
type Ledger struct {
	repo      Repository
	tx        Transactor
	prefix    string
	now       func() time.Time
	newNumber func(prefix string, at time.Time) string
}

// NewLedger creates a Ledger. prefix starts every generated order number.
func NewLedger(repo Repository, tx Transactor, prefix string) *Ledger {
	if prefix == "" {
		prefix = "ORD"
	}
	return &Ledger{
		repo:      repo,
		tx:        tx,
		prefix:    prefix,
		now:       time.Now,
		newNumber: generateNumber,
	}
}

// generateNumber returns <prefix>-<YYYYMMDD>-<8 hex>.
func generateNumber(prefix string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return prefix + "-" + at.UTC().Format("20060102") + "-" + suffix
}

// Create persists o with its items as one unit in status pending. ID, number
// and timestamps are assigned here.
func (l *Ledger) Create(ctx context.Context, o *Order) error {
	if len(o.Items) == 0 {
		return ErrEmptyItems
	}
	for _, it := range o.Items {
		if it.Quantity <= 0 {
			return ErrInvalidQuantity.Withf("quantity must be greater than 0 for product %s", it.ProductID)
		}
	}

	now := l.now()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Status = StatusPending
	o.PaymentStatus = PaymentPending
	o.PaymentID = ""
	o.CreatedAt = now
	o.UpdatedAt = now
	for i := range o.Items {
		o.Items[i].OrderID = o.ID
	}

	var err error
	for range numberAttempts {
		o.Number = l.newNumber(l.prefix, now)
		err = l.tx.WithinTx(ctx, func(ctx context.Context) error {
			return l.repo.Create(ctx, o)
		})
		if !errors.Is(err, ErrNumberTaken) {
			break
		}
		zctx.From(ctx).Warn("Order number collision, regenerating", zap.String("order_number", o.Number))
	}
	if err != nil {
		return apperr.Classify("create order", err)
	}
	return nil
}

// Get returns the order with its items.
func (l *Ledger) Get(ctx context.Context, id string) (*Order, error) {
	o, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, apperr.Classify("get order", err)
	}
	if o.Items, err = l.repo.Items(ctx, id); err != nil {
		return nil, apperr.Classify("list order items", err)
	}
	return o, nil
}

// Track returns the order matching both the number and the customer email.
func (l *Ledger) Track(ctx context.Context, number, email string) (*Order, error) {
	number = strings.TrimSpace(number)
	email = strings.TrimSpace(email)
	if number == "" || email == "" {
		return nil, ErrTrackingRequired
	}

	o, err := l.repo.FindByNumberAndEmail(ctx, number, email)
	if err != nil {
		return nil, apperr.Classify("track order", err)
	}
	if o.Items, err = l.repo.Items(ctx, o.ID); err != nil {
		return nil, apperr.Classify("list order items", err)
	}
	return o, nil
}

// MarkPaid records a successful payment. first is true only for the call
// that moved the order into paid; a replay with the same payment id reports
// false with no error. A different payment id on a paid order is a conflict.
func (l *Ledger) MarkPaid(ctx context.Context, id, paymentID string) (first bool, err error) {
	changed, err := l.repo.MarkPaid(ctx, id, paymentID)
	if err != nil {
		return false, apperr.Classify("mark order paid", err)
	}
	if changed {
		return true, nil
	}

	o, err := l.repo.Get(ctx, id)
	if err != nil {
		return false, apperr.Classify("get order", err)
	}
	if o.PaymentID != paymentID {
		return false, ErrPaymentConflict.Withf("order %s is already paid by %s", id, o.PaymentID)
	}
	return false, nil
}

// MarkFailed records a declined payment. It is a no-op for an order whose
// payment already failed or succeeded.
func (l *Ledger) MarkFailed(ctx context.Context, id string) (first bool, err error) {
	changed, err := l.repo.MarkFailed(ctx, id)
	if err != nil {
		return false, apperr.Classify("mark order failed", err)
	}
	if changed {
		return true, nil
	}

	o, err := l.repo.Get(ctx, id)
	if err != nil {
		return false, apperr.Classify("get order", err)
	}
	if o.PaymentStatus == PaymentPaid {
		zctx.From(ctx).Warn("Ignoring payment failure for paid order",
			zap.String("order_id", id),
			zap.String("payment_id", o.PaymentID),
		)
	}
	return false, nil
}

// Reopen prepares an order for a new payment attempt.
func (l *Ledger) Reopen(ctx context.Context, id string) (*Order, error) {
	changed, err := l.repo.Reopen(ctx, id)
	if err != nil {
		return nil, apperr.Classify("reopen order", err)
	}

	o, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, apperr.Classify("get order", err)
	}
	if !changed {
		return nil, ErrNotPayable.Withf("order in status %s cannot be paid", o.Status)
	}
	return o, nil
}

// Transition applies an administrative status change. Any known status is
// accepted; shipped_at and delivered_at keep their first value.
func (l *Ledger) Transition(ctx context.Context, id string, u StatusUpdate) (*Order, error) {
	if !u.Status.Valid() {
		return nil, ErrInvalidStatus.Withf("unknown order status %q", u.Status)
	}
	if u.TrackingNumber != nil {
		tn := strings.TrimSpace(*u.TrackingNumber)
		u.TrackingNumber = &tn
	}

	o, err := l.repo.UpdateStatus(ctx, id, u)
	if err != nil {
		return nil, apperr.Classify("update order status", err)
	}

	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", id),
		zap.String("status", string(o.Status)),
	)
	return o, nil
}
