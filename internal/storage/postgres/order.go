package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront/checkout/internal/domain/order"
)

const (
	orderColumns = `id, order_number, user_id, customer_name, customer_email, customer_phone,
		subtotal, shipping_amount, discount_amount, tax_amount, total,
		coupon_id, coupon_code, shipping_method, status, payment_status, payment_id,
		shipping_address, billing_address, tracking_number, notes,
		shipped_at, delivered_at, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, order_number, user_id, customer_name, customer_email, customer_phone,
		subtotal, shipping_amount, discount_amount, tax_amount, total,
		coupon_id, coupon_code, shipping_method, status, payment_status,
		shipping_address, billing_address, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $20)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	findOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE order_number = $1 AND customer_email = $2`

	listOrderItemsSQL = `SELECT id, order_id, product_id, product_name, quantity, unit_price, total
		FROM order_items WHERE order_id = $1 ORDER BY id`

	// Cancelled, shipped and delivered orders keep their status.
	markPaidSQL = `UPDATE orders
		SET status = CASE WHEN status IN ('cancelled', 'shipped', 'delivered') THEN status ELSE 'paid' END,
			payment_status = 'paid', payment_id = $2, updated_at = now()
		WHERE id = $1 AND payment_status <> 'paid'`

	markFailedSQL = `UPDATE orders
		SET status = 'payment_failed', payment_status = 'failed', updated_at = now()
		WHERE id = $1 AND payment_status = 'pending'`

	reopenSQL = `UPDATE orders
		SET status = 'pending', payment_status = 'pending', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'payment_failed') AND payment_status <> 'paid'`

	// shipped_at and delivered_at keep their first value.
	updateStatusSQL = `UPDATE orders SET
		status = $2::text,
		tracking_number = COALESCE($3::text, tracking_number),
		notes = COALESCE($4::text, notes),
		shipped_at = CASE WHEN $2::text = 'shipped' THEN COALESCE(shipped_at, now()) ELSE shipped_at END,
		delivered_at = CASE WHEN $2::text = 'delivered' THEN COALESCE(delivered_at, now()) ELSE delivered_at END,
		updated_at = now()
		WHERE id = $1
		RETURNING ` + orderColumns
)

var orderItemColumns = []string{"order_id", "product_id", "product_name", "quantity", "unit_price", "total"}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order row and copies its items in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return withTx(ctx, r.pool, func(ctx context.Context) error {
		q := conn(ctx, r.pool)
		_, err := q.Exec(ctx, createOrderSQL,
			o.ID, o.Number, o.UserID, o.CustomerName, o.CustomerEmail, o.CustomerPhone,
			o.Subtotal, o.ShippingAmount, o.DiscountAmount, o.TaxAmount, o.Total,
			o.CouponID, o.CouponCode, o.ShippingMethod, string(o.Status), string(o.PaymentStatus),
			o.ShippingAddress, o.BillingAddress, o.Notes, o.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err, "orders_order_number_key") {
				return order.ErrNumberTaken
			}
			return fmt.Errorf("inserting order %q: %w", o.ID, err)
		}

		rows := make([][]any, len(o.Items))
		for i, it := range o.Items {
			rows[i] = []any{o.ID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.Total}
		}
		if _, err := q.CopyFrom(ctx, pgx.Identifier{"order_items"}, orderItemColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copying items of order %q: %w", o.ID, err)
		}
		return nil
	})
}

// Get returns the order without items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.one(ctx, "getting order", getOrderSQL, id)
}

// FindByNumberAndEmail matches both the order number and the email exactly.
func (r *OrderRepository) FindByNumberAndEmail(ctx context.Context, number, email string) (*order.Order, error) {
	return r.one(ctx, "finding order by number", findOrderByNumberSQL, number, email)
}

func (r *OrderRepository) one(ctx context.Context, op, sql string, args ...any) (*order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &o, nil
}

// Items returns the lines of an order in insertion order.
func (r *OrderRepository) Items(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listOrderItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %q: %w", orderID, err)
	}
	items, err := pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %q: %w", orderID, err)
	}
	return items, nil
}

// MarkPaid records the payment unless the order is already paid. Cancelled,
// shipped and delivered orders keep their status.
func (r *OrderRepository) MarkPaid(ctx context.Context, id, paymentID string) (bool, error) {
	return r.exec(ctx, "marking order paid", markPaidSQL, id, paymentID)
}

// MarkFailed records a declined payment while payment is pending.
func (r *OrderRepository) MarkFailed(ctx context.Context, id string) (bool, error) {
	return r.exec(ctx, "marking order failed", markFailedSQL, id)
}

// Reopen moves a pending or payment_failed order back to pending.
func (r *OrderRepository) Reopen(ctx context.Context, id string) (bool, error) {
	return r.exec(ctx, "reopening order", reopenSQL, id)
}

func (r *OrderRepository) exec(ctx context.Context, op, sql string, args ...any) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateStatus applies an administrative status change.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, u order.StatusUpdate) (*order.Order, error) {
	return r.one(ctx, "updating order status", updateStatusSQL, id, string(u.Status), u.TrackingNumber, u.Notes)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o              order.Order
		status         string
		paymentStatus  string
		paymentID      *string
		trackingNumber *string
		shippedAt      *time.Time
		deliveredAt    *time.Time
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &o.CustomerName, &o.CustomerEmail, &o.CustomerPhone,
		&o.Subtotal, &o.ShippingAmount, &o.DiscountAmount, &o.TaxAmount, &o.Total,
		&o.CouponID, &o.CouponCode, &o.ShippingMethod, &status, &paymentStatus, &paymentID,
		&o.ShippingAddress, &o.BillingAddress, &trackingNumber, &o.Notes,
		&shippedAt, &deliveredAt, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	if paymentID != nil {
		o.PaymentID = *paymentID
	}
	if trackingNumber != nil {
		o.TrackingNumber = *trackingNumber
	}
	o.ShippedAt = shippedAt
	o.DeliveredAt = deliveredAt
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.Total)
	return it, err
}
