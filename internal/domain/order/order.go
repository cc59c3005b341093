package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/checkout/internal/apperr"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusPaid          Status = "paid"
	StatusShipped       Status = "shipped"
	StatusDelivered     Status = "delivered"
	StatusCancelled     Status = "cancelled"
	StatusPaymentFailed Status = "payment_failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusPaid, StatusShipped,
		StatusDelivered, StatusCancelled, StatusPaymentFailed:
		return true
	}
	return false
}

// PaymentStatus is the payment state of an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

var (
	ErrNotFound          = apperr.NotFound("order_not_found", "order not found")
	ErrEmptyItems        = apperr.Validation("items_required", "items required")
	ErrInvalidQuantity   = apperr.Validation("invalid_quantity", "quantity must be greater than 0")
	ErrCustomerRequired  = apperr.Validation("customer_required", "customer name and email are required")
	ErrInvalidStatus     = apperr.Validation("invalid_status", "unknown order status")
	ErrTrackingRequired  = apperr.Validation("tracking_lookup_required", "order number and email are required")
	ErrTotalsMismatch    = apperr.Validation("totals_mismatch", "order total does not match current prices")
	ErrInsufficientStock = apperr.Conflict("insufficient_stock", "not enough stock for the requested quantity")
	ErrPaymentConflict   = apperr.Conflict("payment_conflict", "order is already paid by another payment")
	ErrNotPayable        = apperr.Conflict("order_not_payable", "order cannot be paid in its current state")
	// ErrNumberTaken is returned by Repository.Create when the generated order
	// number collides with an existing one.
	ErrNumberTaken = apperr.Conflict("order_number_taken", "order number already exists")
)

// Address is a postal address snapshot.
type Address struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Item is an order line with its price frozen at purchase time.
type Item struct {
	ID          int64
	OrderID     string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
}

// Order is a customer order.
type Order struct {
	ID             string
	Number         string
	UserID         *string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	Subtotal       decimal.Decimal
	ShippingAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	Total          decimal.Decimal
	CouponID       *int64
	CouponCode     string
	ShippingMethod string
	Status         Status
	PaymentStatus  PaymentStatus
	// PaymentID is the provider payment-intent id, set when the payment
	// succeeds.
	PaymentID       string
	ShippingAddress Address
	BillingAddress  Address
	TrackingNumber  string
	Notes           string
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Items           []Item
}

// StatusUpdate is an administrative transition request.
type StatusUpdate struct {
	Status         Status
	TrackingNumber *string
	Notes          *string
}

// Repository persists orders. Conditional updates report whether a row
// changed so the caller can tell a replay from a missing order.
type Repository interface {
	// Create inserts the order and its items.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	FindByNumberAndEmail(ctx context.Context, number, email string) (*Order, error)
	Items(ctx context.Context, orderID string) ([]Item, error)
	// MarkPaid sets paid state unless payment_status is already paid.
	// Cancelled, shipped and delivered orders keep their status.
	MarkPaid(ctx context.Context, id, paymentID string) (bool, error)
	// MarkFailed sets failed state while payment_status is pending.
	MarkFailed(ctx context.Context, id string) (bool, error)
	// Reopen moves a pending or payment_failed order back to pending.
	Reopen(ctx context.Context, id string) (bool, error)
	// UpdateStatus applies u, stamping shipped_at and delivered_at only the
	// first time. Returns ErrNotFound for an unknown id.
	UpdateStatus(ctx context.Context, id string, u StatusUpdate) (*Order, error)
}

// Transactor runs fn in a database transaction carried by ctx. Nested calls
// run in a savepoint of the outer transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
