package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/storefront/checkout/internal/domain/settings"
	"github.com/storefront/checkout/internal/domain/shipping"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for admin API key hashing" flag:"api-key-pepper"`
	OrderPrefix  string `default:"SF" usage:"Order number prefix" flag:"order-prefix"`
	AdminEmail   string `default:"" usage:"Recipient of new-order alerts" flag:"admin-email"`
	Payment      PaymentConfig
	Notify       NotifyConfig
	Shipping     ShippingConfig
	Tax          TaxConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// PaymentConfig configures the payment provider. SecretKey and WebhookSecret
// are fallbacks for the values in the settings table.
type PaymentConfig struct {
	Currency         string        `default:"usd" usage:"ISO currency charged"`
	SecretKey        string        `usage:"Payment provider secret key"`
	WebhookSecret    string        `usage:"Webhook signing secret"`
	Timeout          time.Duration `default:"10s" usage:"Payment provider call timeout"`
	WebhookTolerance time.Duration `default:"5m" usage:"Accepted age of signed webhook payloads"`
	BaseURL          string        `default:"" usage:"Payment API base URL override"`
}

// NotifyConfig bounds notification delivery.
type NotifyConfig struct {
	Concurrency int           `default:"8" usage:"Notification deliveries in flight"`
	Timeout     time.Duration `default:"10s" usage:"Timeout of a single delivery"`
}

// ShippingConfig holds shipping defaults. Amounts are decimal strings.
type ShippingConfig struct {
	FallbackBaseDays      int    `default:"5" usage:"Transit days when no zone matches"`
	FallbackRate          string `default:"9.99" usage:"Rate charged when no shipping rate matches"`
	Simple                bool   `default:"false" usage:"Use one flat rate instead of the rate tables"`
	FlatRate              string `default:"5.99" usage:"Flat rate for simple shipping"`
	FreeShippingThreshold string `default:"" usage:"Order value above which simple shipping is free"`
}

// TaxConfig holds the default tax rate.
type TaxConfig struct {
	RatePercent string `default:"0" usage:"Tax rate in percent"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files and platform variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set STORE_DATABASE_URL or DATABASE_URL")
	}
	if cfg.APIKeyPepper == "" {
		return nil, errors.New("api key pepper is required: set STORE_API_KEY_PEPPER")
	}
	if _, err := cfg.SettingsDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the standard DATABASE_URL and PORT variables of
// hosting platforms onto the configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// SettingsDefaults returns the fallbacks for persisted runtime settings.
func (c *Config) SettingsDefaults() (settings.Defaults, error) {
	d := settings.Defaults{
		WebhookSecret:    c.Payment.WebhookSecret,
		GatewaySecretKey: c.Payment.SecretKey,
		SimpleShipping:   c.Shipping.Simple,
	}
	var err error
	if d.FlatRate, err = parseAmount("shipping flat rate", c.Shipping.FlatRate); err != nil {
		return d, err
	}
	if d.TaxRatePercent, err = parseAmount("tax rate", c.Tax.RatePercent); err != nil {
		return d, err
	}
	if c.Shipping.FreeShippingThreshold != "" {
		v, err := parseAmount("free shipping threshold", c.Shipping.FreeShippingThreshold)
		if err != nil {
			return d, err
		}
		d.FreeShippingThreshold = decimal.NewNullDecimal(v)
	}
	return d, nil
}

// ShippingDefaults returns the resolver fallbacks.
func (c *Config) ShippingDefaults() (shipping.Config, error) {
	rate, err := parseAmount("shipping fallback rate", c.Shipping.FallbackRate)
	if err != nil {
		return shipping.Config{}, err
	}
	return shipping.Config{FallbackBaseDays: c.Shipping.FallbackBaseDays, FallbackRate: rate}, nil
}

func parseAmount(name, v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %s", name)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Errorf("%s must not be negative", name)
	}
	return d, nil
}
