// Package notify declares the notifications emitted by the order lifecycle.
// Delivery (email, chat) is an external concern.
package notify

import "context"

// Order is the notification payload.
type Order struct {
	ID             string
	Number         string
	CustomerName   string
	CustomerEmail  string
	Total          string
	Status         string
	TrackingNumber string
	Reason         string
}

// Notifier delivers lifecycle notifications. Implementations may block; the
// callers bound them with a timeout.
type Notifier interface {
	// OrderPlaced tells the customer the order was received.
	OrderPlaced(ctx context.Context, o Order) error
	// AdminNewOrder alerts the store staff.
	AdminNewOrder(ctx context.Context, o Order) error
	// PaymentConfirmed tells the customer the payment went through.
	PaymentConfirmed(ctx context.Context, o Order) error
	// PaymentFailed tells the customer the payment was declined.
	PaymentFailed(ctx context.Context, o Order) error
	// StatusChanged tells the customer about a fulfilment update.
	StatusChanged(ctx context.Context, o Order) error
}
