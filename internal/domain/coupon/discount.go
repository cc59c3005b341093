package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Compute calculates the discount c grants on subtotal. The result is rounded
// to cents and never exceeds the subtotal.
func Compute(c *Coupon, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if subtotal.IsNegative() {
		subtotal = decimal.Zero
	}

	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		amount = subtotal.Mul(c.Value).Div(hundred)
		if c.MaximumDiscount.Valid {
			amount = decimal.Min(amount, c.MaximumDiscount.Decimal)
		}
	case DiscountFixedAmount:
		amount = c.Value
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}

	amount = decimal.Min(floorAtZero(amount), subtotal)
	return amount.Round(2), nil
}

// Subtotal returns the sum of price * quantity across items.
func Subtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
