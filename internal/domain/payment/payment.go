// Package payment describes the card processor the checkout talks to. The
// store never sees card data: it asks the processor for a payment intent tied
// to an order id and later receives signed asynchronous events about it.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// EventType is the normalized kind of a provider event.
type EventType string

const (
	EventPaymentSucceeded  EventType = "payment_succeeded"
	EventPaymentFailed     EventType = "payment_failed"
	EventCheckoutCompleted EventType = "checkout_completed"
	EventUnknown           EventType = "unknown"
)

// IntentRequest asks the provider to authorize a charge for an order.
type IntentRequest struct {
	OrderID     string
	OrderNumber string
	Amount      decimal.Decimal
	Currency    string
	Email       string
	// IdempotencyKey lets the provider collapse retried creations.
	IdempotencyKey string
}

// Intent is a created payment intent.
type Intent struct {
	ID           string
	ClientSecret string
}

// Event is a verified provider event.
type Event struct {
	// ID is the provider's event id, unique per delivery subject.
	ID string
	// RawType is the provider's own event type name.
	RawType string
	Type    EventType
	// OrderID is resolved from the intent metadata; empty when absent.
	OrderID string
	// PaymentID is the provider's payment-intent id.
	PaymentID      string
	FailureMessage string
}

// Gateway is the payment provider contract.
type Gateway interface {
	// CreateIntent requests a payment intent. secretKey is the provider API
	// key resolved from settings.
	CreateIntent(ctx context.Context, secretKey string, req IntentRequest) (*Intent, error)
	// VerifyEvent authenticates a webhook delivery and parses it. It fails
	// with an apperr signature error before looking at business fields.
	VerifyEvent(payload []byte, signatureHeader, secret string) (*Event, error)
}
