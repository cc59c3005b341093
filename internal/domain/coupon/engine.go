package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Engine validates coupon codes against a cart and redeems them.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine creates an Engine backed by the given Repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// Validate looks up the coupon for code, checks that it is active, within its
// validity window, above its minimum and not exhausted, and computes the
// discount on subtotal. When subtotal is zero it is derived from items.
//
// Validate never changes used_count.
func (e *Engine) Validate(ctx context.Context, code string, items []Item, subtotal decimal.Decimal) (*Result, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrCodeRequired
	}
	if subtotal.IsZero() && len(items) > 0 {
		subtotal = Subtotal(items)
	}

	c, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if err := e.check(c, subtotal); err != nil {
		return nil, err
	}

	amount, err := Compute(c, subtotal)
	if err != nil {
		return nil, err
	}

	return &Result{Coupon: c, Discount: amount}, nil
}

func (e *Engine) check(c *Coupon, subtotal decimal.Decimal) error {
	if !c.IsActive {
		return ErrInactive
	}

	now := e.now()
	if now.Before(c.ValidFrom) {
		return ErrNotYetValid
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return ErrExpired
	}

	if c.MinimumOrderAmount.Valid && subtotal.LessThan(c.MinimumOrderAmount.Decimal) {
		return ErrBelowMinimum.Withf("order subtotal must be at least %s", c.MinimumOrderAmount.Decimal.StringFixed(2))
	}

	if c.Exhausted() {
		return ErrLimitReached
	}
	return nil
}

// Redeem consumes one use of the coupon. The increment is guarded in storage,
// so concurrent redemptions never push used_count past usage_limit and a
// coupon disabled or expired since validation is not consumed. Both cases
// return ErrUnavailable.
func (e *Engine) Redeem(ctx context.Context, couponID int64) error {
	ok, err := e.repo.IncrementUsage(ctx, couponID)
	if err != nil {
		return errors.Wrap(err, "increment coupon usage")
	}
	if !ok {
		return ErrUnavailable
	}
	return nil
}
