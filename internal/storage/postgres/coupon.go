package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront/checkout/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT id, code, description, discount_type, discount_value,
		minimum_order_amount, maximum_discount_amount, usage_limit, used_count,
		valid_from, valid_until, is_active
		FROM coupons WHERE code = $1`

	// The guard keeps used_count within usage_limit under concurrent redemptions
	// and rejects coupons disabled or expired since validation.
	incrementCouponUsageSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND is_active
			AND valid_from <= now() AND (valid_until IS NULL OR valid_until >= now())
			AND (usage_limit IS NULL OR used_count < usage_limit)`

	upsertCouponSQL = `INSERT INTO coupons (code, description, discount_type, discount_value,
		minimum_order_amount, maximum_discount_amount, usage_limit, valid_from, valid_until, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			minimum_order_amount = EXCLUDED.minimum_order_amount,
			maximum_discount_amount = EXCLUDED.maximum_discount_amount,
			usage_limit = EXCLUDED.usage_limit,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			is_active = EXCLUDED.is_active
		RETURNING id, used_count`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its upper-cased code. Inactive coupons are
// returned too; the engine decides how to report them.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// IncrementUsage consumes one use; it reports false when the guard matched no
// row.
func (r *CouponRepository) IncrementUsage(ctx context.Context, id int64) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, incrementCouponUsageSQL, id)
	if err != nil {
		return false, fmt.Errorf("incrementing usage of coupon %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Upsert creates or updates a coupon by code, leaving used_count untouched.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	err := conn(ctx, r.pool).QueryRow(ctx, upsertCouponSQL,
		c.Code, c.Description, string(c.DiscountType), c.Value,
		c.MinimumOrderAmount, c.MaximumDiscount, c.UsageLimit, c.ValidFrom, c.ValidUntil, c.IsActive,
	).Scan(&c.ID, &c.UsedCount)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &c.Value,
		&c.MinimumOrderAmount, &c.MaximumDiscount, &c.UsageLimit, &c.UsedCount,
		&c.ValidFrom, &c.ValidUntil, &c.IsActive,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	return c, err
}
