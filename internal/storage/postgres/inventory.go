package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront/checkout/internal/domain/inventory"
)

// SET expressions see the old row, so in_stock is derived from the same new
// quantity that is stored.
const adjustStockSQL = `UPDATE products
	SET stock_quantity = stock_quantity + $2,
		in_stock = stock_quantity + $2 > 0,
		updated_at = now()
	WHERE id = $1
	RETURNING id, stock_quantity, in_stock`

var _ inventory.Repository = (*InventoryRepository)(nil)

// InventoryRepository implements inventory.Repository backed by PostgreSQL.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

// NewInventoryRepository returns an InventoryRepository that uses the given pool.
func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

// Decrement subtracts qty from the product's stock, allowing it to go negative.
func (r *InventoryRepository) Decrement(ctx context.Context, productID string, qty int) (inventory.Level, error) {
	return r.apply(ctx, productID, -qty)
}

// Adjust adds delta to the product's stock.
func (r *InventoryRepository) Adjust(ctx context.Context, productID string, delta int) (inventory.Level, error) {
	return r.apply(ctx, productID, delta)
}

func (r *InventoryRepository) apply(ctx context.Context, productID string, delta int) (inventory.Level, error) {
	var l inventory.Level
	err := conn(ctx, r.pool).QueryRow(ctx, adjustStockSQL, productID, delta).
		Scan(&l.ProductID, &l.StockQuantity, &l.InStock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Level{}, inventory.ErrProductNotFound
		}
		return inventory.Level{}, fmt.Errorf("updating stock of %q: %w", productID, err)
	}
	return l, nil
}
