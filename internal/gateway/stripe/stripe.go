// Package stripe implements payment.Gateway on top of the Stripe API.
package stripe

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/storefront/checkout/internal/apperr"
	"github.com/storefront/checkout/internal/domain/payment"
)

// MetadataOrderID is the intent metadata key carrying the order id.
const MetadataOrderID = "order_id"

// Currencies charged in whole units.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// Options configures the adapter.
type Options struct {
	// BaseURL overrides the API endpoint.
	BaseURL    string
	HTTPClient *http.Client
	// Tolerance is the accepted age of a signed webhook payload.
	Tolerance time.Duration
}

// Gateway talks to Stripe. The API key is passed per call because it is a
// runtime setting; one client is kept per key.
type Gateway struct {
	backends  *stripeapi.Backends
	tolerance time.Duration

	mu      sync.Mutex
	clients map[string]*client.API
}

var _ payment.Gateway = (*Gateway)(nil)

// New creates a Gateway.
func New(opts Options) *Gateway {
	g := &Gateway{
		tolerance: opts.Tolerance,
		clients:   map[string]*client.API{},
	}
	if g.tolerance <= 0 {
		g.tolerance = webhook.DefaultTolerance
	}
	if opts.BaseURL != "" || opts.HTTPClient != nil {
		g.backends = &stripeapi.Backends{
			API:     stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendConfig(opts)),
			Connect: stripeapi.GetBackendWithConfig(stripeapi.ConnectBackend, backendConfig(opts)),
			Uploads: stripeapi.GetBackendWithConfig(stripeapi.UploadsBackend, backendConfig(opts)),
		}
	}
	return g
}

// backendConfig returns a fresh config per backend; the SDK fills in
// defaults in place.
func backendConfig(opts Options) *stripeapi.BackendConfig {
	cfg := &stripeapi.BackendConfig{
		HTTPClient:        opts.HTTPClient,
		MaxNetworkRetries: stripeapi.Int64(0),
		LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelNull},
	}
	if opts.BaseURL != "" {
		cfg.URL = stripeapi.String(opts.BaseURL)
	}
	return cfg
}

func (g *Gateway) client(key string) *client.API {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[key]
	if !ok {
		c = client.New(key, g.backends)
		g.clients[key] = c
	}
	return c
}

// MinorUnits converts amount to the smallest currency unit.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

// CreateIntent creates a PaymentIntent tagged with the order id.
func (g *Gateway) CreateIntent(ctx context.Context, secretKey string, req payment.IntentRequest) (*payment.Intent, error) {
	currency := strings.ToLower(req.Currency)
	params := &stripeapi.PaymentIntentParams{
		Amount:      stripeapi.Int64(MinorUnits(req.Amount, currency)),
		Currency:    stripeapi.String(currency),
		Description: stripeapi.String("Order " + req.OrderNumber),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	if req.Email != "" {
		params.ReceiptEmail = stripeapi.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata(MetadataOrderID, req.OrderID)
	params.AddMetadata("order_number", req.OrderNumber)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.client(secretKey).PaymentIntents.New(params)
	if err != nil {
		return nil, apperr.Gateway("create payment intent", err)
	}
	return &payment.Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// VerifyEvent checks the Stripe-Signature header and parses the event.
func (g *Gateway) VerifyEvent(payload []byte, signatureHeader, secret string) (*payment.Event, error) {
	if err := webhook.ValidatePayloadWithTolerance(payload, signatureHeader, secret, g.tolerance); err != nil {
		return nil, apperr.Signature(err)
	}

	ev, err := parseEvent(payload)
	if err != nil {
		return nil, apperr.Validation("invalid_event", "malformed webhook event").With(err)
	}
	if ev.ID == "" {
		return nil, apperr.Validation("invalid_event", "webhook event has no id")
	}
	ev.Type = eventType(ev.RawType)
	return ev, nil
}

// Stripe event types the reconciler acts on.
const (
	eventIntentSucceeded = "payment_intent.succeeded"
	eventIntentFailed    = "payment_intent.payment_failed"
	eventSessionComplete = "checkout.session.completed"
)

func eventType(raw string) payment.EventType {
	switch raw {
	case eventIntentSucceeded:
		return payment.EventPaymentSucceeded
	case eventIntentFailed:
		return payment.EventPaymentFailed
	case eventSessionComplete:
		return payment.EventCheckoutCompleted
	default:
		return payment.EventUnknown
	}
}
