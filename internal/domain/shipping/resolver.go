package shipping

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// processingDays accounts for the same-day processing lag.
const processingDays = 1

// Config holds the defaults used when reference data has no answer.
type Config struct {
	FallbackBaseDays int
	FallbackRate     decimal.Decimal
}

// Resolver computes delivery estimates and shipping prices. Lookups never
// fail the customer flow: missing or unreadable reference data yields the
// configured default instead.
type Resolver struct {
	repo     Repository
	settings Settings
	cfg      Config
	now      func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(repo Repository, settings Settings, cfg Config) *Resolver {
	if cfg.FallbackBaseDays <= 0 {
		cfg.FallbackBaseDays = 5
	}
	return &Resolver{repo: repo, settings: settings, cfg: cfg, now: time.Now}
}

// Estimate computes the delivery estimate for a destination and carrier as
// base_delivery_days + additional_days + 1 days from today.
func (r *Resolver) Estimate(ctx context.Context, zip string, carrierID int64, country string) (*Estimate, error) {
	prefix := ZipPrefix(zip)
	if prefix == "" {
		return nil, ErrZipRequired
	}
	country = normalizeCountry(country)

	days := r.cfg.FallbackBaseDays
	fallback := false

	zone, err := r.repo.FindZone(ctx, country, prefix, carrierID)
	switch {
	case err == nil:
		days = zone.BaseDeliveryDays + zone.AdditionalDays
	case errors.Is(err, ErrZoneNotFound):
		fallback = true
	default:
		zctx.From(ctx).Warn("Shipping zone lookup failed, using default estimate",
			zap.String("country", country),
			zap.String("zip_prefix", prefix),
			zap.Int64("carrier_id", carrierID),
			zap.Error(err),
		)
		fallback = true
	}

	total := days + processingDays
	y, m, d := r.now().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	return &Estimate{
		EstimatedDelivery: today.AddDate(0, 0, total),
		TotalDays:         total,
		Fallback:          fallback,
	}, nil
}

// Rates returns the shipping options for an order, cheapest first. A rate is
// free when orderValue reaches its free-shipping threshold.
func (r *Resolver) Rates(ctx context.Context, orderValue, weight decimal.Decimal, zip, country string) (Quote, error) {
	simple, err := r.settings.SimpleShipping(ctx)
	if err != nil {
		zctx.From(ctx).Warn("Shipping settings unreadable, using rate tables", zap.Error(err))
		simple = SimpleShipping{}
	}
	if simple.Enabled {
		return Quote{Rates: []Rate{simpleRate(simple, orderValue)}}, nil
	}

	q := RateQuery{
		OrderValue: orderValue,
		Weight:     weight,
		ZipPrefix:  ZipPrefix(zip),
		Country:    normalizeCountry(country),
	}
	rates, err := r.repo.FindRates(ctx, q)
	if err != nil {
		zctx.From(ctx).Warn("Shipping rate lookup failed, using default rate",
			zap.String("country", q.Country),
			zap.String("zip_prefix", q.ZipPrefix),
			zap.Error(err),
		)
		rates = nil
	}
	if len(rates) == 0 {
		return Quote{Rates: []Rate{r.fallbackRate()}, Fallback: true}, nil
	}

	for i := range rates {
		rates[i].FinalRate = finalRate(rates[i].Rate, rates[i].FreeShippingThreshold, orderValue)
	}
	slices.SortStableFunc(rates, func(a, b Rate) int {
		if c := a.FinalRate.Cmp(b.FinalRate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	return Quote{Rates: rates}, nil
}

// Select returns the rate with the given id from the order's applicable
// rates, or the cheapest one when rateID is nil.
func (r *Resolver) Select(ctx context.Context, rateID *int64, orderValue, weight decimal.Decimal, zip, country string) (Rate, error) {
	quote, err := r.Rates(ctx, orderValue, weight, zip, country)
	if err != nil {
		return Rate{}, err
	}
	if rateID == nil {
		return quote.Cheapest(), nil
	}
	for _, rate := range quote.Rates {
		if rate.ID == *rateID {
			return rate, nil
		}
	}
	return Rate{}, ErrUnknownRate
}

func (r *Resolver) fallbackRate() Rate {
	return Rate{
		CarrierName: "Standard",
		MethodName:  "Standard shipping",
		Rate:        r.cfg.FallbackRate,
		FinalRate:   r.cfg.FallbackRate,
	}
}

func simpleRate(s SimpleShipping, orderValue decimal.Decimal) Rate {
	return Rate{
		CarrierName:           "Store",
		MethodName:            "Flat rate",
		Rate:                  s.FlatRate,
		FreeShippingThreshold: s.FreeThreshold,
		FinalRate:             finalRate(s.FlatRate, s.FreeThreshold, orderValue),
	}
}

func finalRate(rate decimal.Decimal, threshold decimal.NullDecimal, orderValue decimal.Decimal) decimal.Decimal {
	if threshold.Valid && orderValue.GreaterThanOrEqual(threshold.Decimal) {
		return decimal.Zero
	}
	return rate
}
