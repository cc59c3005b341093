package shipping

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/checkout/internal/apperr"
)

const prefixLen = 3

var (
	// ErrZipRequired is returned when the destination postal code is empty.
	ErrZipRequired = apperr.Validation("zip_required", "zip code is required")
	// ErrZoneNotFound is returned by Repository.FindZone when no zone matches.
	ErrZoneNotFound = apperr.NotFound("zone_not_found", "no shipping zone matches the destination")
	// ErrUnknownRate is returned when a requested rate does not apply to the order.
	ErrUnknownRate = apperr.Validation("unknown_shipping_rate", "shipping option is not available for this order")
)

// Zone maps a country and a set of postal prefixes to delivery days for a
// carrier. An empty ZipPrefixes list covers the whole country.
type Zone struct {
	ID               int64
	CarrierID        int64
	CountryCode      string
	ZipPrefixes      []string
	BaseDeliveryDays int
	AdditionalDays   int
}

// Rate is a priced shipping option.
type Rate struct {
	ID                    int64
	CarrierID             int64
	CarrierName           string
	MethodID              int64
	MethodName            string
	Rate                  decimal.Decimal
	FreeShippingThreshold decimal.NullDecimal
	// FinalRate is Rate, or zero when the order value reaches the threshold.
	FinalRate decimal.Decimal
}

// Estimate is a delivery-date estimate.
type Estimate struct {
	EstimatedDelivery time.Time
	TotalDays         int
	// Fallback is set when no zone matched and the default was used.
	Fallback bool
}

// RateQuery selects the rates applicable to an order.
type RateQuery struct {
	OrderValue decimal.Decimal
	Weight     decimal.Decimal
	ZipPrefix  string
	Country    string
}

// Quote is the ordered list of applicable rates, cheapest first.
type Quote struct {
	Rates    []Rate
	Fallback bool
}

// Cheapest returns the first rate of the quote.
func (q Quote) Cheapest() Rate {
	return q.Rates[0]
}

// SimpleShipping is the store-wide flat/free shipping mode.
type SimpleShipping struct {
	Enabled       bool
	FlatRate      decimal.Decimal
	FreeThreshold decimal.NullDecimal
}

// Repository reads carrier, zone and rate reference data.
type Repository interface {
	// FindZone returns the most specific active zone for the destination
	// served by carrierID, or ErrZoneNotFound.
	FindZone(ctx context.Context, country, zipPrefix string, carrierID int64) (*Zone, error)
	// FindRates returns every active rate whose weight band, order-value band
	// and zone match q. FinalRate is left unset.
	FindRates(ctx context.Context, q RateQuery) ([]Rate, error)
}

// Settings provides the runtime shipping mode.
type Settings interface {
	SimpleShipping(ctx context.Context) (SimpleShipping, error)
}

// ZipPrefix derives the postal prefix used for zone matching.
func ZipPrefix(zip string) string {
	zip = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(zip), " ", ""))
	if len(zip) > prefixLen {
		return zip[:prefixLen]
	}
	return zip
}

func normalizeCountry(country string) string {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		return "US"
	}
	return country
}
