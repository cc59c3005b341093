// Command seed-db applies the schema and loads reference data: products,
// carriers with their zones and rates, a starter coupon and an admin API key.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/storefront/checkout/internal/domain/auth"
	"github.com/storefront/checkout/internal/domain/coupon"
	"github.com/storefront/checkout/internal/storage/postgres"
)

type productJSON struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Weight decimal.Decimal `json:"weight"`
	Stock  int             `json:"stock"`
}

const upsertProductSQL = `INSERT INTO products (id, name, price, weight, stock_quantity, in_stock)
	VALUES ($1, $2, $3, $4, $5, $5 > 0)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		price = EXCLUDED.price,
		weight = EXCLUDED.weight,
		updated_at = now()`

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or STORE_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STORE_API_KEY_PEPPER env)")
	flag.Parse()

	lg := zap.Must(zap.NewDevelopment())
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if apiKey == "" {
		apiKey = os.Getenv("STORE_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STORE_API_KEY_PEPPER")
	}
	if apiKey == "" || apiKeyPepper == "" {
		lg.Fatal("API key and pepper are required: set --api-key and --api-key-pepper")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile, apiKey, pepper string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, lg, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedShipping(ctx, lg, pool); err != nil {
		return errors.Wrap(err, "seed shipping")
	}
	if err := seedCoupons(ctx, lg, postgres.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	key := &auth.APIKeyInfo{
		ID:      "admin",
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Store admin",
		Scopes:  []string{auth.ScopeOrdersWrite, auth.ScopeInventoryWrite},
	}
	if err := postgres.NewAPIKeyRepository(pool).Upsert(ctx, key); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	lg.Info("Upserted API key", zap.String("id", key.ID), zap.Strings("scopes", key.Scopes))
	return nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}
	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	// Existing stock is left alone so reseeding never resets inventory.
	b := &pgx.Batch{}
	for _, p := range products {
		b.Queue(upsertProductSQL, p.ID, p.Name, p.Price, p.Weight, p.Stock)
	}
	if err := pool.SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrap(err, "upsert products")
	}
	lg.Info("Upserted products", zap.Int("count", len(products)))
	return nil
}

type rateSeed struct {
	method        string
	zone          string
	minWeight     string
	maxWeight     string
	rate          string
	freeThreshold string
}

type zoneSeed struct {
	name       string
	prefixes   []string
	baseDays   int
	additional int
}

type carrierSeed struct {
	name    string
	code    string
	methods []string
	zones   []zoneSeed
	rates   []rateSeed
}

var carriers = []carrierSeed{
	{
		name:    "UPS",
		code:    "ups",
		methods: []string{"Ground", "Express"},
		zones: []zoneSeed{
			{name: "Northeast", prefixes: []string{"100", "101", "102", "021", "191"}, baseDays: 2, additional: 1},
			{name: "Contiguous US", baseDays: 5, additional: 1},
		},
		rates: []rateSeed{
			{method: "Ground", zone: "Northeast", maxWeight: "5", rate: "6.99", freeThreshold: "75"},
			{method: "Ground", zone: "Northeast", minWeight: "5", rate: "12.99"},
			{method: "Express", zone: "Northeast", rate: "19.99"},
			{method: "Ground", zone: "Contiguous US", maxWeight: "5", rate: "8.99", freeThreshold: "100"},
			{method: "Ground", zone: "Contiguous US", minWeight: "5", rate: "15.99"},
			{method: "Express", zone: "Contiguous US", rate: "29.99"},
		},
	},
	{
		name:    "USPS",
		code:    "usps",
		methods: []string{"Priority"},
		zones: []zoneSeed{
			{name: "Nationwide", baseDays: 3, additional: 2},
		},
		rates: []rateSeed{
			{method: "Priority", zone: "Nationwide", maxWeight: "2", rate: "7.50"},
		},
	},
}

// seedShipping loads carriers, methods, zones and rates. Zones and rates are
// only inserted for carriers that have none yet.
func seedShipping(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, c := range carriers {
			var carrierID int64
			if err := tx.QueryRow(ctx, `INSERT INTO carriers (name, code) VALUES ($1, $2)
				ON CONFLICT (name) DO UPDATE SET code = EXCLUDED.code
				RETURNING id`, c.name, c.code).Scan(&carrierID); err != nil {
				return errors.Wrapf(err, "upsert carrier %s", c.name)
			}

			methods := make(map[string]int64, len(c.methods))
			for _, m := range c.methods {
				var id int64
				if err := tx.QueryRow(ctx, `INSERT INTO shipping_methods (carrier_id, name) VALUES ($1, $2)
					ON CONFLICT (carrier_id, name) DO UPDATE SET is_active = TRUE
					RETURNING id`, carrierID, m).Scan(&id); err != nil {
					return errors.Wrapf(err, "upsert method %s/%s", c.name, m)
				}
				methods[m] = id
			}

			var seeded bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shipping_zones WHERE carrier_id = $1)`,
				carrierID).Scan(&seeded); err != nil {
				return errors.Wrapf(err, "check zones of %s", c.name)
			}
			if seeded {
				lg.Info("Carrier zones already present", zap.String("carrier", c.name))
				continue
			}

			zones := make(map[string]int64, len(c.zones))
			for _, z := range c.zones {
				prefixes := z.prefixes
				if prefixes == nil {
					prefixes = []string{}
				}
				var id int64
				if err := tx.QueryRow(ctx, `INSERT INTO shipping_zones
					(carrier_id, name, zip_prefixes, base_delivery_days, additional_days)
					VALUES ($1, $2, $3, $4, $5) RETURNING id`,
					carrierID, z.name, prefixes, z.baseDays, z.additional).Scan(&id); err != nil {
					return errors.Wrapf(err, "insert zone %s/%s", c.name, z.name)
				}
				zones[z.name] = id
			}

			for _, r := range c.rates {
				if _, err := tx.Exec(ctx, `INSERT INTO shipping_rates
					(method_id, zone_id, min_weight, max_weight, rate, free_shipping_threshold)
					VALUES ($1, $2, $3, $4, $5, $6)`,
					methods[r.method], zones[r.zone],
					amountOr(r.minWeight, decimal.Zero), nullAmount(r.maxWeight),
					decimal.RequireFromString(r.rate), nullAmount(r.freeThreshold),
				); err != nil {
					return errors.Wrapf(err, "insert rate %s/%s/%s", c.name, r.zone, r.method)
				}
			}
			lg.Info("Seeded carrier",
				zap.String("carrier", c.name),
				zap.Int("zones", len(c.zones)),
				zap.Int("rates", len(c.rates)),
			)
		}
		return nil
	})
}

func seedCoupons(ctx context.Context, lg *zap.Logger, repo *postgres.CouponRepository) error {
	limit := 500
	coupons := []*coupon.Coupon{
		{
			Code:         "SAVE20",
			Description:  "20% off your order",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(20),
			ValidFrom:    time.Now(),
			IsActive:     true,
		},
		{
			Code:               "WELCOME10",
			Description:        "$10 off orders over $50",
			DiscountType:       coupon.DiscountFixedAmount,
			Value:              decimal.NewFromInt(10),
			MinimumOrderAmount: decimal.NewNullDecimal(decimal.NewFromInt(50)),
			UsageLimit:         &limit,
			ValidFrom:          time.Now(),
			IsActive:           true,
		},
	}
	for _, c := range coupons {
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}
		lg.Info("Upserted coupon", zap.String("code", c.Code), zap.Int("used", c.UsedCount))
	}
	return nil
}

func amountOr(v string, def decimal.Decimal) decimal.Decimal {
	if v == "" {
		return def
	}
	return decimal.RequireFromString(v)
}

func nullAmount(v string) decimal.NullDecimal {
	if v == "" {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}
