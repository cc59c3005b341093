package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront/checkout/internal/domain/shipping"
)

const (
	// Zones listing the prefix win over country-wide zones.
	findZoneSQL = `SELECT id, carrier_id, country_code, zip_prefixes, base_delivery_days, additional_days
		FROM shipping_zones
		WHERE is_active
			AND ($1::bigint = 0 OR carrier_id = $1::bigint)
			AND country_code = $2
			AND ($3 = ANY(zip_prefixes) OR cardinality(zip_prefixes) = 0)
		ORDER BY cardinality(zip_prefixes) = 0, id
		LIMIT 1`

	// One row per method, taken from its most specific matching zone.
	findRatesSQL = `SELECT DISTINCT ON (m.id)
			r.id, c.id, c.name, m.id, m.name, r.rate, r.free_shipping_threshold
		FROM shipping_rates r
		JOIN shipping_methods m ON m.id = r.method_id AND m.is_active
		JOIN carriers c ON c.id = m.carrier_id AND c.is_active
		JOIN shipping_zones z ON z.id = r.zone_id AND z.is_active AND z.carrier_id = c.id
		WHERE r.is_active
			AND r.min_weight <= $1 AND (r.max_weight IS NULL OR $1 <= r.max_weight)
			AND r.min_order_value <= $2 AND (r.max_order_value IS NULL OR $2 <= r.max_order_value)
			AND z.country_code = $3
			AND ($4 = ANY(z.zip_prefixes) OR cardinality(z.zip_prefixes) = 0)
		ORDER BY m.id, cardinality(z.zip_prefixes) = 0, r.rate, r.id`
)

var _ shipping.Repository = (*ShippingRepository)(nil)

// ShippingRepository reads carrier, zone and rate reference data.
type ShippingRepository struct {
	pool *pgxpool.Pool
}

// NewShippingRepository returns a ShippingRepository that uses the given pool.
func NewShippingRepository(pool *pgxpool.Pool) *ShippingRepository {
	return &ShippingRepository{pool: pool}
}

// FindZone returns the most specific zone; carrierID 0 matches any carrier.
func (r *ShippingRepository) FindZone(ctx context.Context, country, zipPrefix string, carrierID int64) (*shipping.Zone, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, findZoneSQL, carrierID, country, zipPrefix)
	if err != nil {
		return nil, fmt.Errorf("finding shipping zone: %w", err)
	}
	z, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (shipping.Zone, error) {
		var z shipping.Zone
		err := row.Scan(&z.ID, &z.CarrierID, &z.CountryCode, &z.ZipPrefixes, &z.BaseDeliveryDays, &z.AdditionalDays)
		return z, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shipping.ErrZoneNotFound
		}
		return nil, fmt.Errorf("finding shipping zone: %w", err)
	}
	return &z, nil
}

// FindRates returns one rate per active method matching the destination,
// weight and order value.
func (r *ShippingRepository) FindRates(ctx context.Context, q shipping.RateQuery) ([]shipping.Rate, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, findRatesSQL, q.Weight, q.OrderValue, q.Country, q.ZipPrefix)
	if err != nil {
		return nil, fmt.Errorf("finding shipping rates: %w", err)
	}
	rates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (shipping.Rate, error) {
		var rt shipping.Rate
		err := row.Scan(&rt.ID, &rt.CarrierID, &rt.CarrierName, &rt.MethodID, &rt.MethodName, &rt.Rate, &rt.FreeShippingThreshold)
		return rt, err
	})
	if err != nil {
		return nil, fmt.Errorf("finding shipping rates: %w", err)
	}
	return rates, nil
}
