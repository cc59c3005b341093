package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/storefront/checkout/internal/apperr"
	"github.com/storefront/checkout/internal/domain/coupon"
	"github.com/storefront/checkout/internal/domain/notify"
	"github.com/storefront/checkout/internal/domain/payment"
	"github.com/storefront/checkout/internal/domain/product"
	"github.com/storefront/checkout/internal/domain/shipping"
)

var hundred = decimal.NewFromInt(100)

// CouponEngine validates and redeems coupon codes.
type CouponEngine interface {
	Validate(ctx context.Context, code string, items []coupon.Item, subtotal decimal.Decimal) (*coupon.Result, error)
	Redeem(ctx context.Context, couponID int64) error
}

// ShippingSelector picks the shipping rate charged for an order.
type ShippingSelector interface {
	Select(ctx context.Context, rateID *int64, orderValue, weight decimal.Decimal, zip, country string) (shipping.Rate, error)
}

// Settings provides runtime checkout settings.
type Settings interface {
	TaxRatePercent(ctx context.Context) (decimal.Decimal, error)
	GatewaySecretKey(ctx context.Context) (string, error)
}

// CheckoutConfig holds static checkout options.
type CheckoutConfig struct {
	Currency       string
	PaymentTimeout time.Duration
}

// Line is a requested cart line.
type Line struct {
	ProductID string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	UserID          *string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	Items           []Line
	CouponCode      string
	ShippingRateID  *int64
	ShippingAddress Address
	// BillingAddress defaults to ShippingAddress.
	BillingAddress *Address
	Notes          string
	// ExpectedTotal is the total the client displayed, if any.
	ExpectedTotal *decimal.Decimal
}

// Placed is a created order with the payment intent to confirm client-side.
type Placed struct {
	Order        *Order
	ClientSecret string
}

// Checkout turns carts into pending orders and requests payment intents.
type Checkout struct {
	ledger   *Ledger
	tx       Transactor
	products product.Repository
	coupons  CouponEngine
	shipping ShippingSelector
	settings Settings
	gateway  payment.Gateway
	notifier notify.Notifier
	cfg      CheckoutConfig

	ordersCreated  metric.Int64Counter
	redeemRejected metric.Int64Counter
}

// CheckoutDeps groups the collaborators of Checkout.
type CheckoutDeps struct {
	Ledger   *Ledger
	Tx       Transactor
	Products product.Repository
	Coupons  CouponEngine
	Shipping ShippingSelector
	Settings Settings
	Gateway  payment.Gateway
	Notifier notify.Notifier
	Meter    metric.Meter
}

// NewCheckout creates a Checkout.
func NewCheckout(deps CheckoutDeps, cfg CheckoutConfig) (*Checkout, error) {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 10 * time.Second
	}

	created, err := deps.Meter.Int64Counter("store.orders.created",
		metric.WithDescription("Orders created"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders counter")
	}
	rejected, err := deps.Meter.Int64Counter("store.coupons.redeem_rejected",
		metric.WithDescription("Coupon redemptions rejected by the usage limit"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create coupon rejection counter")
	}

	return &Checkout{
		ledger:         deps.Ledger,
		tx:             deps.Tx,
		products:       deps.Products,
		coupons:        deps.Coupons,
		shipping:       deps.Shipping,
		settings:       deps.Settings,
		gateway:        deps.Gateway,
		notifier:       deps.Notifier,
		cfg:            cfg,
		ordersCreated:  created,
		redeemRejected: rejected,
	}, nil
}

// PlaceOrder prices the cart from the catalog, applies the coupon, shipping
// and tax, persists the order with the coupon redemption in one transaction
// and requests a payment intent.
//
// When the payment provider fails, the created order is returned together
// with a gateway error; the order stays pending and can be paid later.
func (c *Checkout) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Placed, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	o, err := c.price(ctx, req)
	if err != nil {
		return nil, err
	}

	err = c.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := c.ledger.Create(ctx, o); err != nil {
			return err
		}
		if o.CouponID == nil {
			return nil
		}
		return c.coupons.Redeem(ctx, *o.CouponID)
	})
	if err != nil {
		if errors.Is(err, coupon.ErrUnavailable) {
			c.redeemRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("code", o.CouponCode)))
		}
		return nil, apperr.Classify("place order", err)
	}

	c.ordersCreated.Add(ctx, 1)
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("order_number", o.Number))
	lg.Info("Order created", zap.String("total", o.Total.StringFixed(2)))

	n := o.Notification()
	if err := c.notifier.OrderPlaced(ctx, n); err != nil {
		lg.Warn("Order confirmation not sent", zap.Error(err))
	}
	if err := c.notifier.AdminNewOrder(ctx, n); err != nil {
		lg.Warn("Admin order alert not sent", zap.Error(err))
	}

	placed := &Placed{Order: o}
	intent, err := c.createIntent(ctx, o, "order-"+o.ID)
	if err != nil {
		return placed, err
	}
	placed.ClientSecret = intent.ClientSecret
	return placed, nil
}

// RetryPayment requests a new payment intent for a pending or failed order.
func (c *Checkout) RetryPayment(ctx context.Context, orderID string) (*Placed, error) {
	o, err := c.ledger.Reopen(ctx, orderID)
	if err != nil {
		return nil, err
	}

	intent, err := c.createIntent(ctx, o, "order-"+o.ID+"-"+uuid.NewString())
	if err != nil {
		return nil, err
	}
	return &Placed{Order: o, ClientSecret: intent.ClientSecret}, nil
}

func validateRequest(req *PlaceOrderRequest) error {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	if req.CustomerName == "" || req.CustomerEmail == "" {
		return ErrCustomerRequired
	}
	if len(req.Items) == 0 {
		return ErrEmptyItems
	}
	for _, l := range req.Items {
		if l.Quantity <= 0 {
			return ErrInvalidQuantity.Withf("quantity must be greater than 0 for product %s", l.ProductID)
		}
	}
	if strings.TrimSpace(req.ShippingAddress.PostalCode) == "" {
		return shipping.ErrZipRequired
	}
	return nil
}

// price builds the order from live catalog data.
func (c *Checkout) price(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	ids := make([]string, 0, len(req.Items))
	wanted := make(map[string]int, len(req.Items))
	for _, l := range req.Items {
		if _, ok := wanted[l.ProductID]; !ok {
			ids = append(ids, l.ProductID)
		}
		wanted[l.ProductID] += l.Quantity
	}

	fetched, err := c.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Classify("get products", err)
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	for _, id := range ids {
		p, ok := byID[id]
		if !ok || !p.IsActive {
			return nil, product.ErrNotFound.Withf("product %s not found", id)
		}
		if p.StockQuantity < wanted[id] {
			return nil, ErrInsufficientStock.Withf("only %d of %s left in stock", max(p.StockQuantity, 0), p.Name)
		}
	}

	o := &Order{
		UserID:          req.UserID,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.ShippingAddress,
		Notes:           req.Notes,
		Items:           make([]Item, 0, len(req.Items)),
	}
	if req.BillingAddress != nil {
		o.BillingAddress = *req.BillingAddress
	}

	couponItems := make([]coupon.Item, 0, len(req.Items))
	weight := decimal.Zero
	for _, l := range req.Items {
		p := byID[l.ProductID]
		qty := decimal.NewFromInt(int64(l.Quantity))
		line := p.Price.Mul(qty)

		o.Items = append(o.Items, Item{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			UnitPrice:   p.Price,
			Total:       line.Round(2),
		})
		couponItems = append(couponItems, coupon.Item{ProductID: p.ID, Price: p.Price, Quantity: l.Quantity})
		o.Subtotal = o.Subtotal.Add(line)
		weight = weight.Add(p.Weight.Mul(qty))
	}
	o.Subtotal = o.Subtotal.Round(2)

	if strings.TrimSpace(req.CouponCode) != "" {
		res, err := c.coupons.Validate(ctx, req.CouponCode, couponItems, o.Subtotal)
		if err != nil {
			return nil, apperr.Classify("validate coupon", err)
		}
		o.CouponID = &res.Coupon.ID
		o.CouponCode = res.Coupon.Code
		o.DiscountAmount = res.Discount
	}

	rate, err := c.shipping.Select(ctx, req.ShippingRateID, o.Subtotal, weight,
		req.ShippingAddress.PostalCode, req.ShippingAddress.Country)
	if err != nil {
		return nil, apperr.Classify("select shipping rate", err)
	}
	o.ShippingAmount = rate.FinalRate.Round(2)
	o.ShippingMethod = strings.TrimSpace(rate.CarrierName + " " + rate.MethodName)

	taxRate, err := c.settings.TaxRatePercent(ctx)
	if err != nil {
		return nil, apperr.Classify("load tax rate", err)
	}
	taxable := o.Subtotal.Sub(o.DiscountAmount)
	o.TaxAmount = taxable.Mul(taxRate).Div(hundred).Round(2)

	o.Total = taxable.Add(o.ShippingAmount).Add(o.TaxAmount).Round(2)

	if req.ExpectedTotal != nil && !req.ExpectedTotal.Round(2).Equal(o.Total) {
		return nil, ErrTotalsMismatch.Withf("order total is %s, expected %s",
			o.Total.StringFixed(2), req.ExpectedTotal.StringFixed(2))
	}
	return o, nil
}

func (c *Checkout) createIntent(ctx context.Context, o *Order, idempotencyKey string) (*payment.Intent, error) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))

	secret, err := c.settings.GatewaySecretKey(ctx)
	if err != nil {
		return nil, apperr.Classify("load gateway key", err)
	}
	if secret == "" {
		lg.Error("Payment gateway key is not configured")
		return nil, apperr.Gateway("create payment intent", errors.New("gateway secret key is not configured"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PaymentTimeout)
	defer cancel()

	intent, err := c.gateway.CreateIntent(ctx, secret, payment.IntentRequest{
		OrderID:        o.ID,
		OrderNumber:    o.Number,
		Amount:         o.Total,
		Currency:       c.cfg.Currency,
		Email:          o.CustomerEmail,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		lg.Error("Payment intent creation failed", zap.Error(err))
		if apperr.KindOf(err) == apperr.KindGateway {
			return nil, err
		}
		return nil, apperr.Gateway("create payment intent", err)
	}
	return intent, nil
}

// Notification converts o into a notification payload.
func (o *Order) Notification() notify.Order {
	return notify.Order{
		ID:             o.ID,
		Number:         o.Number,
		CustomerName:   o.CustomerName,
		CustomerEmail:  o.CustomerEmail,
		Total:          o.Total.StringFixed(2),
		Status:         string(o.Status),
		TrackingNumber: o.TrackingNumber,
	}
}
