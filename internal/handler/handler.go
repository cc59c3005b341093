package handler

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/storefront/checkout/internal/domain/auth"
	"github.com/storefront/checkout/internal/domain/coupon"
	"github.com/storefront/checkout/internal/domain/inventory"
	"github.com/storefront/checkout/internal/domain/notify"
	"github.com/storefront/checkout/internal/domain/order"
	"github.com/storefront/checkout/internal/domain/shipping"
	"github.com/storefront/checkout/internal/reconcile"
)

// Checkout places orders and requests payment intents.
type Checkout interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Placed, error)
	RetryPayment(ctx context.Context, orderID string) (*order.Placed, error)
}

// Ledger exposes the order reads and administrative transitions.
type Ledger interface {
	Track(ctx context.Context, number, email string) (*order.Order, error)
	Transition(ctx context.Context, id string, u order.StatusUpdate) (*order.Order, error)
}

// Coupons validates coupon codes against a cart.
type Coupons interface {
	Validate(ctx context.Context, code string, items []coupon.Item, subtotal decimal.Decimal) (*coupon.Result, error)
}

// Shipping answers delivery estimates and rate quotes.
type Shipping interface {
	Estimate(ctx context.Context, zip string, carrierID int64, country string) (*shipping.Estimate, error)
	Rates(ctx context.Context, orderValue, weight decimal.Decimal, zip, country string) (shipping.Quote, error)
}

// Inventory applies manual stock adjustments.
type Inventory interface {
	Adjust(ctx context.Context, productID string, delta int) (inventory.Level, error)
}

// Webhooks applies payment provider events.
type Webhooks interface {
	Handle(ctx context.Context, payload []byte, signatureHeader string) (reconcile.Outcome, error)
}

// Deps groups the collaborators of Handler.
type Deps struct {
	Checkout  Checkout
	Ledger    Ledger
	Coupons   Coupons
	Shipping  Shipping
	Inventory Inventory
	Webhooks  Webhooks
	Notifier  notify.Notifier
	Security  *SecurityHandler
}

// Handler serves the storefront API.
type Handler struct {
	checkout  Checkout
	ledger    Ledger
	coupons   Coupons
	shipping  Shipping
	inventory Inventory
	webhooks  Webhooks
	notifier  notify.Notifier
	security  *SecurityHandler
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		checkout:  deps.Checkout,
		ledger:    deps.Ledger,
		coupons:   deps.Coupons,
		shipping:  deps.Shipping,
		inventory: deps.Inventory,
		webhooks:  deps.Webhooks,
		notifier:  deps.Notifier,
		security:  deps.Security,
	}
}

// Register mounts the API routes on mux under prefix.
func (h *Handler) Register(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("POST "+prefix+"/orders", h.PlaceOrder)
	mux.HandleFunc("GET "+prefix+"/orders/track", h.TrackOrder)
	mux.HandleFunc("POST "+prefix+"/orders/{id}/payment-intent", h.RetryPayment)
	mux.HandleFunc("PUT "+prefix+"/orders/{id}/status", h.security.Require(auth.ScopeOrdersWrite, h.UpdateOrderStatus))

	mux.HandleFunc("POST "+prefix+"/shipping/estimate", h.EstimateShipping)
	mux.HandleFunc("POST "+prefix+"/shipping/rates", h.ShippingRates)

	mux.HandleFunc("POST "+prefix+"/coupons/validate", h.ValidateCoupon)

	mux.HandleFunc("PUT "+prefix+"/products/{id}/stock", h.security.Require(auth.ScopeInventoryWrite, h.AdjustStock))

	mux.HandleFunc("POST "+prefix+"/webhooks/payments", h.PaymentWebhook)
}
