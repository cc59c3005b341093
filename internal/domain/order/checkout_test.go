package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/storefront/checkout/internal/apperr"
	"github.com/storefront/checkout/internal/domain/coupon"
	"github.com/storefront/checkout/internal/domain/notify"
	"github.com/storefront/checkout/internal/domain/payment"
	"github.com/storefront/checkout/internal/domain/product"
	"github.com/storefront/checkout/internal/domain/shipping"
)

// --- Mock implementations ---

type mockProducts struct {
	byID map[string]product.Product
	err  error
}

func (m *mockProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockCoupons struct {
	result    *coupon.Result
	err       error
	redeemErr error
	redeemed  []int64
}

func (m *mockCoupons) Validate(_ context.Context, _ string, _ []coupon.Item, subtotal decimal.Decimal) (*coupon.Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.result.Coupon.DiscountType == "" {
		return m.result, nil
	}
	amount, err := coupon.Compute(m.result.Coupon, subtotal)
	if err != nil {
		return nil, err
	}
	return &coupon.Result{Coupon: m.result.Coupon, Discount: amount}, nil
}

func (m *mockCoupons) Redeem(_ context.Context, id int64) error {
	if m.redeemErr != nil {
		return m.redeemErr
	}
	m.redeemed = append(m.redeemed, id)
	return nil
}

type mockShipping struct {
	rate shipping.Rate
	err  error
}

func (m *mockShipping) Select(_ context.Context, _ *int64, _, _ decimal.Decimal, _, _ string) (shipping.Rate, error) {
	return m.rate, m.err
}

type mockSettings struct {
	tax decimal.Decimal
	key string
}

func (m *mockSettings) TaxRatePercent(context.Context) (decimal.Decimal, error) { return m.tax, nil }
func (m *mockSettings) GatewaySecretKey(context.Context) (string, error)       { return m.key, nil }

type mockGateway struct {
	mu       sync.Mutex
	requests []payment.IntentRequest
	err      error
	deadline bool
}

func (m *mockGateway) CreateIntent(ctx context.Context, _ string, req payment.IntentRequest) (*payment.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, m.deadline = ctx.Deadline()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &payment.Intent{ID: "pi_test", ClientSecret: "pi_test_secret"}, nil
}

func (m *mockGateway) VerifyEvent([]byte, string, string) (*payment.Event, error) {
	return nil, errors.New("not implemented")
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) record(kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, kind)
	return nil
}

func (r *recordingNotifier) OrderPlaced(context.Context, notify.Order) error {
	return r.record("placed")
}

func (r *recordingNotifier) AdminNewOrder(context.Context, notify.Order) error {
	return r.record("admin")
}

func (r *recordingNotifier) PaymentConfirmed(context.Context, notify.Order) error {
	return r.record("confirmed")
}

func (r *recordingNotifier) PaymentFailed(context.Context, notify.Order) error {
	return r.record("failed")
}

func (r *recordingNotifier) StatusChanged(context.Context, notify.Order) error {
	return r.record("status")
}

// --- Helpers ---

type checkoutFixture struct {
	repo     *memRepo
	coupons  *mockCoupons
	shipping *mockShipping
	settings *mockSettings
	gateway  *mockGateway
	notifier *recordingNotifier
	checkout *Checkout
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	f := &checkoutFixture{
		repo:     newMemRepo(),
		coupons:  &mockCoupons{},
		shipping: &mockShipping{rate: shipping.Rate{ID: 1, CarrierName: "UPS", MethodName: "Ground", FinalRate: decimal.RequireFromString("5.99")}},
		settings: &mockSettings{tax: decimal.Zero, key: "sk_test"},
		gateway:  &mockGateway{},
		notifier: &recordingNotifier{},
	}
	products := &mockProducts{byID: map[string]product.Product{
		"p1": {ID: "p1", Name: "Widget", Price: decimal.RequireFromString("10.00"), Weight: decimal.RequireFromString("0.5"), StockQuantity: 10, InStock: true, IsActive: true},
		"p2": {ID: "p2", Name: "Gadget", Price: decimal.RequireFromString("40.00"), Weight: decimal.NewFromInt(2), StockQuantity: 1, InStock: true, IsActive: true},
		"p3": {ID: "p3", Name: "Retired", Price: decimal.NewFromInt(1), StockQuantity: 5, IsActive: false},
	}}

	c, err := NewCheckout(CheckoutDeps{
		Ledger:   newTestLedger(f.repo),
		Tx:       memTx{repo: f.repo},
		Products: products,
		Coupons:  f.coupons,
		Shipping: f.shipping,
		Settings: f.settings,
		Gateway:  f.gateway,
		Notifier: f.notifier,
		Meter:    noop.NewMeterProvider().Meter("test"),
	}, CheckoutConfig{Currency: "usd", PaymentTimeout: time.Second})
	require.NoError(t, err)
	f.checkout = c
	return f
}

func baseRequest() PlaceOrderRequest {
	return PlaceOrderRequest{
		CustomerName:    "Ada Lovelace",
		CustomerEmail:   "ada@example.com",
		Items:           []Line{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}},
		ShippingAddress: Address{Line1: "1 Main St", City: "New York", PostalCode: "10001", Country: "US"},
	}
}

// --- Tests ---

func TestPlaceOrder_PricesFromCatalog(t *testing.T) {
	f := newCheckoutFixture(t)

	placed, err := f.checkout.PlaceOrder(context.Background(), baseRequest())
	require.NoError(t, err)

	o := placed.Order
	assert.Equal(t, "60", o.Subtotal.String())
	assert.Equal(t, "5.99", o.ShippingAmount.String())
	assert.Equal(t, "65.99", o.Total.String())
	assert.Equal(t, "UPS Ground", o.ShippingMethod)
	assert.Equal(t, o.ShippingAddress, o.BillingAddress)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "10", o.Items[0].UnitPrice.String())
	assert.Equal(t, "pi_test_secret", placed.ClientSecret)

	require.Len(t, f.gateway.requests, 1)
	req := f.gateway.requests[0]
	assert.Equal(t, o.ID, req.OrderID)
	assert.True(t, o.Total.Equal(req.Amount))
	assert.Equal(t, "order-"+o.ID, req.IdempotencyKey)
	assert.True(t, f.gateway.deadline)

	assert.ElementsMatch(t, []string{"placed", "admin"}, f.notifier.sent)
}

func TestPlaceOrder_Save20Scenario(t *testing.T) {
	f := newCheckoutFixture(t)
	f.shipping.rate = shipping.Rate{FinalRate: decimal.Zero}
	f.coupons.result = &coupon.Result{Coupon: &coupon.Coupon{
		ID: 7, Code: "SAVE20", DiscountType: coupon.DiscountPercentage, Value: decimal.NewFromInt(20), IsActive: true,
	}}

	req := baseRequest()
	req.Items = []Line{{ProductID: "p1", Quantity: 10}}
	req.CouponCode = "save20"

	placed, err := f.checkout.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "20", placed.Order.DiscountAmount.String())
	assert.Equal(t, "80", placed.Order.Total.String())
	assert.Equal(t, "SAVE20", placed.Order.CouponCode)
	assert.Equal(t, []int64{7}, f.coupons.redeemed)
}

func TestPlaceOrder_Tax(t *testing.T) {
	f := newCheckoutFixture(t)
	f.settings.tax = decimal.RequireFromString("8.875")
	f.shipping.rate = shipping.Rate{FinalRate: decimal.Zero}

	req := baseRequest()
	req.Items = []Line{{ProductID: "p1", Quantity: 1}}

	placed, err := f.checkout.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "0.89", placed.Order.TaxAmount.String())
	assert.Equal(t, "10.89", placed.Order.Total.String())
}

func TestPlaceOrder_LostCouponRaceRollsBack(t *testing.T) {
	f := newCheckoutFixture(t)
	f.coupons.result = &coupon.Result{Coupon: &coupon.Coupon{ID: 9, Code: "LAST"}, Discount: decimal.NewFromInt(5)}
	f.coupons.redeemErr = coupon.ErrUnavailable

	req := baseRequest()
	req.CouponCode = "LAST"

	_, err := f.checkout.PlaceOrder(context.Background(), req)
	require.ErrorIs(t, err, coupon.ErrUnavailable)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	assert.Empty(t, f.repo.orders)
	assert.Empty(t, f.gateway.requests)
	assert.Empty(t, f.notifier.sent)
}

func TestPlaceOrder_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PlaceOrderRequest)
		want   error
	}{
		{"no items", func(r *PlaceOrderRequest) { r.Items = nil }, ErrEmptyItems},
		{"zero quantity", func(r *PlaceOrderRequest) { r.Items[0].Quantity = 0 }, ErrInvalidQuantity},
		{"no email", func(r *PlaceOrderRequest) { r.CustomerEmail = " " }, ErrCustomerRequired},
		{"no zip", func(r *PlaceOrderRequest) { r.ShippingAddress.PostalCode = "" }, shipping.ErrZipRequired},
		{"unknown product", func(r *PlaceOrderRequest) { r.Items[0].ProductID = "nope" }, product.ErrNotFound},
		{"inactive product", func(r *PlaceOrderRequest) { r.Items[0].ProductID = "p3" }, product.ErrNotFound},
		{"over stock", func(r *PlaceOrderRequest) { r.Items = append(r.Items, Line{ProductID: "p2", Quantity: 1}) }, ErrInsufficientStock},
		{"total mismatch", func(r *PlaceOrderRequest) {
			v := decimal.RequireFromString("60.00")
			r.ExpectedTotal = &v
		}, ErrTotalsMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCheckoutFixture(t)
			req := baseRequest()
			tt.mutate(&req)

			_, err := f.checkout.PlaceOrder(context.Background(), req)
			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, f.repo.orders)
		})
	}
}

func TestPlaceOrder_MatchingExpectedTotal(t *testing.T) {
	f := newCheckoutFixture(t)
	req := baseRequest()
	v := decimal.RequireFromString("65.99")
	req.ExpectedTotal = &v

	_, err := f.checkout.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
}

func TestPlaceOrder_GatewayFailureKeepsPendingOrder(t *testing.T) {
	f := newCheckoutFixture(t)
	f.gateway.err = context.DeadlineExceeded

	placed, err := f.checkout.PlaceOrder(context.Background(), baseRequest())
	require.Error(t, err)
	assert.Equal(t, apperr.KindGateway, apperr.KindOf(err))
	assert.True(t, apperr.Retryable(err))

	require.NotNil(t, placed)
	stored, err := f.repo.Get(context.Background(), placed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Empty(t, placed.ClientSecret)
}

func TestPlaceOrder_MissingGatewayKey(t *testing.T) {
	f := newCheckoutFixture(t)
	f.settings.key = ""

	placed, err := f.checkout.PlaceOrder(context.Background(), baseRequest())
	require.Error(t, err)
	assert.Equal(t, apperr.KindGateway, apperr.KindOf(err))
	require.NotNil(t, placed)
	assert.Empty(t, f.gateway.requests)
}

func TestRetryPayment(t *testing.T) {
	f := newCheckoutFixture(t)
	placed, err := f.checkout.PlaceOrder(context.Background(), baseRequest())
	require.NoError(t, err)
	id := placed.Order.ID

	_, err = f.checkout.ledger.MarkFailed(context.Background(), id)
	require.NoError(t, err)

	retried, err := f.checkout.RetryPayment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, retried.Order.Status)
	assert.Equal(t, "pi_test_secret", retried.ClientSecret)

	require.Len(t, f.gateway.requests, 2)
	assert.NotEqual(t, f.gateway.requests[0].IdempotencyKey, f.gateway.requests[1].IdempotencyKey)

	_, err = f.checkout.RetryPayment(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
