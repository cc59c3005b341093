// Package settings resolves runtime-editable store settings. Values persisted
// by administrators win; anything unset falls back to the process
// configuration, which itself is loaded from the environment.
package settings

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/storefront/checkout/internal/domain/shipping"
)

// Persisted setting keys.
const (
	KeyWebhookSecret         = "payment.webhook_secret"
	KeyGatewaySecretKey      = "payment.secret_key"
	KeySimpleShipping        = "shipping.simple_enabled"
	KeyFlatRate              = "shipping.flat_rate"
	KeyFreeShippingThreshold = "shipping.free_threshold"
	KeyTaxRatePercent        = "tax.rate_percent"
)

// Store reads persisted settings.
type Store interface {
	// Get returns the stored value and whether the key is present.
	Get(ctx context.Context, key string) (string, bool, error)
}

// Defaults are the environment-provided values used when a key is absent.
type Defaults struct {
	WebhookSecret         string
	GatewaySecretKey      string
	SimpleShipping        bool
	FlatRate              decimal.Decimal
	FreeShippingThreshold decimal.NullDecimal
	TaxRatePercent        decimal.Decimal
}

// Resolver layers persisted settings over Defaults.
type Resolver struct {
	store    Store
	defaults Defaults
}

var _ shipping.Settings = (*Resolver)(nil)

// NewResolver creates a Resolver.
func NewResolver(store Store, defaults Defaults) *Resolver {
	return &Resolver{store: store, defaults: defaults}
}

func (r *Resolver) lookup(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return "", false, errors.Wrapf(err, "get setting %s", key)
	}
	v = strings.TrimSpace(v)
	return v, ok && v != "", nil
}

func (r *Resolver) str(ctx context.Context, key, fallback string) (string, error) {
	v, ok, err := r.lookup(ctx, key)
	if err != nil || !ok {
		return fallback, err
	}
	return v, nil
}

func (r *Resolver) dec(ctx context.Context, key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	v, ok, err := r.lookup(ctx, key)
	if err != nil || !ok {
		return fallback, err
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fallback, errors.Wrapf(err, "parse setting %s", key)
	}
	return d, nil
}

// WebhookSecret returns the provider signing secret.
func (r *Resolver) WebhookSecret(ctx context.Context) (string, error) {
	return r.str(ctx, KeyWebhookSecret, r.defaults.WebhookSecret)
}

// GatewaySecretKey returns the provider API key.
func (r *Resolver) GatewaySecretKey(ctx context.Context) (string, error) {
	return r.str(ctx, KeyGatewaySecretKey, r.defaults.GatewaySecretKey)
}

// TaxRatePercent returns the tax rate applied to the discounted subtotal.
func (r *Resolver) TaxRatePercent(ctx context.Context) (decimal.Decimal, error) {
	return r.dec(ctx, KeyTaxRatePercent, r.defaults.TaxRatePercent)
}

// SimpleShipping returns the store-wide flat/free shipping mode.
func (r *Resolver) SimpleShipping(ctx context.Context) (shipping.SimpleShipping, error) {
	out := shipping.SimpleShipping{
		Enabled:       r.defaults.SimpleShipping,
		FlatRate:      r.defaults.FlatRate,
		FreeThreshold: r.defaults.FreeShippingThreshold,
	}

	v, ok, err := r.lookup(ctx, KeySimpleShipping)
	if err != nil {
		return out, err
	}
	if ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return out, errors.Wrapf(err, "parse setting %s", KeySimpleShipping)
		}
		out.Enabled = enabled
	}
	if !out.Enabled {
		return out, nil
	}

	if out.FlatRate, err = r.dec(ctx, KeyFlatRate, out.FlatRate); err != nil {
		return out, err
	}

	v, ok, err = r.lookup(ctx, KeyFreeShippingThreshold)
	if err != nil {
		return out, err
	}
	if ok {
		threshold, err := decimal.NewFromString(v)
		if err != nil {
			return out, errors.Wrapf(err, "parse setting %s", KeyFreeShippingThreshold)
		}
		out.FreeThreshold = decimal.NewNullDecimal(threshold)
	}
	return out, nil
}
