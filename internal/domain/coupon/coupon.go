package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/checkout/internal/apperr"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixedAmount takes a fixed amount, never more than the subtotal.
	DiscountFixedAmount DiscountType = "fixed_amount"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixedAmount
}

var (
	// ErrCodeRequired is returned for an empty coupon code.
	ErrCodeRequired = apperr.Validation("coupon_code_required", "coupon code is required")
	// ErrNotFound is returned when no coupon matches the normalized code.
	ErrNotFound = apperr.NotFound("coupon_not_found", "invalid coupon code")
	// ErrInactive is returned for a disabled coupon. The message matches
	// ErrNotFound so disabled codes look unknown to customers.
	ErrInactive = apperr.NotFound("coupon_inactive", "invalid coupon code")
	// ErrNotYetValid is returned before the coupon's valid_from.
	ErrNotYetValid = apperr.Validation("coupon_not_yet_valid", "coupon is not valid yet")
	// ErrExpired is returned after the coupon's valid_until.
	ErrExpired = apperr.Validation("coupon_expired", "coupon has expired")
	// ErrBelowMinimum is returned when the subtotal is under the coupon minimum.
	ErrBelowMinimum = apperr.Validation("coupon_below_minimum", "order does not meet the coupon minimum")
	// ErrLimitReached is returned when the coupon has no uses left.
	ErrLimitReached = apperr.Conflict("coupon_limit_reached", "coupon usage limit reached")
	// ErrUnavailable is returned by Redeem when the coupon was used up,
	// disabled or expired after it was validated.
	ErrUnavailable = apperr.Conflict("coupon_unavailable", "coupon is no longer available")
)

// Coupon is a redeemable discount code.
type Coupon struct {
	ID                 int64
	Code               string
	Description        string
	DiscountType       DiscountType
	Value              decimal.Decimal
	MinimumOrderAmount decimal.NullDecimal
	// MaximumDiscount caps percentage discounts only.
	MaximumDiscount decimal.NullDecimal
	UsageLimit      *int
	UsedCount       int
	ValidFrom       time.Time
	ValidUntil      *time.Time
	IsActive        bool
}

// Exhausted reports whether the coupon has a usage limit and no uses left.
func (c *Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit
}

// Item represents a cart line for discount calculation purposes.
type Item struct {
	ProductID string
	Price     decimal.Decimal
	Quantity  int
}

// Result is the outcome of a successful validation.
type Result struct {
	Coupon   *Coupon
	Discount decimal.Decimal
}

// Repository provides coupon lookup and the atomic usage increment.
type Repository interface {
	// FindByCode returns the coupon with the given upper-cased code, or
	// ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// IncrementUsage increments used_count when the coupon is active, inside
	// its validity window and still has uses left. It reports false when the
	// guard rejected the increment.
	IncrementUsage(ctx context.Context, id int64) (bool, error)
	// Upsert creates or replaces a coupon by code.
	Upsert(ctx context.Context, c *Coupon) error
}

// NormalizeCode trims and upper-cases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
