package inventory

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/storefront/checkout/internal/apperr"
)

var (
	// ErrProductNotFound is returned when the product has no stock row.
	ErrProductNotFound = apperr.NotFound("product_not_found", "product not found")
	// ErrInvalidQuantity is returned for a non-positive decrement.
	ErrInvalidQuantity = apperr.Validation("invalid_quantity", "quantity must be greater than 0")
	// ErrZeroAdjustment is returned for an adjustment of zero units.
	ErrZeroAdjustment = apperr.Validation("zero_adjustment", "stock adjustment must not be zero")
)

// Level is the stock state of a product after a mutation.
type Level struct {
	ProductID     string
	StockQuantity int
	InStock       bool
}

// Line is one product/quantity pair to take out of stock.
type Line struct {
	ProductID string
	Quantity  int
}

// Repository performs single-statement stock mutations. Implementations must
// apply the delta in storage (stock_quantity = stock_quantity + delta) and
// recompute in_stock in the same statement.
type Repository interface {
	Decrement(ctx context.Context, productID string, qty int) (Level, error)
	Adjust(ctx context.Context, productID string, delta int) (Level, error)
}

// Store is the only writer of stock counters.
type Store struct {
	repo     Repository
	negative metric.Int64Counter
}

// NewStore creates a Store reporting negative stock on meter.
func NewStore(repo Repository, meter metric.Meter) (*Store, error) {
	negative, err := meter.Int64Counter("store.inventory.negative_stock",
		metric.WithDescription("Decrements that left a product below zero stock"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create negative stock counter")
	}
	return &Store{repo: repo, negative: negative}, nil
}

// Decrement takes qty units of a product out of stock. Stock is not clamped:
// a negative result is reported as a data-quality alarm and kept.
func (s *Store) Decrement(ctx context.Context, productID string, qty int) (Level, error) {
	if qty <= 0 {
		return Level{}, ErrInvalidQuantity
	}

	level, err := s.repo.Decrement(ctx, productID, qty)
	if err != nil {
		return Level{}, errors.Wrapf(err, "decrement stock of %s", productID)
	}

	if level.StockQuantity < 0 {
		s.negative.Add(ctx, 1, metric.WithAttributes(attribute.String("product_id", productID)))
		zctx.From(ctx).Error("Stock went negative",
			zap.String("product_id", productID),
			zap.Int("quantity", qty),
			zap.Int("stock_quantity", level.StockQuantity),
		)
	}
	return level, nil
}

// DecrementLines decrements every line in order.
func (s *Store) DecrementLines(ctx context.Context, lines []Line) error {
	for _, l := range lines {
		if _, err := s.Decrement(ctx, l.ProductID, l.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// Adjust applies a manual administrative correction.
func (s *Store) Adjust(ctx context.Context, productID string, delta int) (Level, error) {
	if delta == 0 {
		return Level{}, ErrZeroAdjustment
	}

	level, err := s.repo.Adjust(ctx, productID, delta)
	if err != nil {
		return Level{}, errors.Wrapf(err, "adjust stock of %s", productID)
	}

	zctx.From(ctx).Info("Stock adjusted",
		zap.String("product_id", productID),
		zap.Int("delta", delta),
		zap.Int("stock_quantity", level.StockQuantity),
	)
	return level, nil
}
