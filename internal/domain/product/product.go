package product

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/storefront/checkout/internal/apperr"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = apperr.NotFound("product_not_found", "product not found")

// Product holds the catalog fields checkout needs.
type Product struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	Weight        decimal.Decimal
	StockQuantity int
	InStock       bool
	IsActive      bool
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
