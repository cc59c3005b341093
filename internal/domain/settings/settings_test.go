package settings

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStore struct {
	values map[string]string
	err    error
}

func (m mapStore) Get(_ context.Context, key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func TestResolver_WebhookSecretPrefersStored(t *testing.T) {
	r := NewResolver(mapStore{values: map[string]string{KeyWebhookSecret: "whsec_stored"}}, Defaults{WebhookSecret: "whsec_env"})

	got, err := r.WebhookSecret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "whsec_stored", got)
}

func TestResolver_WebhookSecretFallsBackToEnvironment(t *testing.T) {
	for name, values := range map[string]map[string]string{
		"absent": {},
		"blank":  {KeyWebhookSecret: "  "},
	} {
		t.Run(name, func(t *testing.T) {
			r := NewResolver(mapStore{values: values}, Defaults{WebhookSecret: "whsec_env"})
			got, err := r.WebhookSecret(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "whsec_env", got)
		})
	}
}

func TestResolver_StoreError(t *testing.T) {
	r := NewResolver(mapStore{err: errors.New("conn refused")}, Defaults{GatewaySecretKey: "sk_env"})
	_, err := r.GatewaySecretKey(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), KeyGatewaySecretKey)
}

func TestResolver_SimpleShipping(t *testing.T) {
	r := NewResolver(mapStore{values: map[string]string{
		KeySimpleShipping:        "true",
		KeyFlatRate:              "4.99",
		KeyFreeShippingThreshold: "35",
	}}, Defaults{FlatRate: decimal.NewFromInt(10)})

	got, err := r.SimpleShipping(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.True(t, decimal.RequireFromString("4.99").Equal(got.FlatRate))
	require.True(t, got.FreeThreshold.Valid)
	assert.True(t, decimal.NewFromInt(35).Equal(got.FreeThreshold.Decimal))
}

func TestResolver_SimpleShippingDisabledByDefault(t *testing.T) {
	r := NewResolver(mapStore{values: map[string]string{}}, Defaults{})
	got, err := r.SimpleShipping(context.Background())
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestResolver_SimpleShippingInvalidFlag(t *testing.T) {
	r := NewResolver(mapStore{values: map[string]string{KeySimpleShipping: "sometimes"}}, Defaults{})
	_, err := r.SimpleShipping(context.Background())
	require.Error(t, err)
}

func TestResolver_TaxRate(t *testing.T) {
	r := NewResolver(mapStore{values: map[string]string{KeyTaxRatePercent: "8.875"}}, Defaults{})
	got, err := r.TaxRatePercent(context.Background())
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("8.875").Equal(got))

	r = NewResolver(mapStore{values: map[string]string{KeyTaxRatePercent: "abc"}}, Defaults{})
	_, err = r.TaxRatePercent(context.Background())
	require.Error(t, err)
}
