package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/storefront/checkout/internal/domain/coupon"
	"github.com/storefront/checkout/internal/domain/inventory"
	"github.com/storefront/checkout/internal/domain/order"
	"github.com/storefront/checkout/internal/domain/settings"
	"github.com/storefront/checkout/internal/domain/shipping"
	"github.com/storefront/checkout/internal/gateway/stripe"
	"github.com/storefront/checkout/internal/handler"
	"github.com/storefront/checkout/internal/notify"
	"github.com/storefront/checkout/internal/reconcile"
	"github.com/storefront/checkout/internal/storage/postgres"
	"github.com/storefront/checkout/pkg/health"
	"github.com/storefront/checkout/pkg/httpmiddleware"
)

const (
	apiPrefix   = "/api"
	webhookPath = apiPrefix + "/webhooks/payments"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	srv, err := newServer(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer srv.pool.Close()

	healthSvc, dispatcher, server := srv.health, srv.dispatcher, srv.http
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			lg.Warn("Pending notifications dropped", zap.Error(err))
		}
		healthSvc.Stop()
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

type server struct {
	http       *http.Server
	health     *health.Health
	dispatcher *notify.Dispatcher
	pool       *pgxpool.Pool
}

// newServer is the single wiring point for the application. Health checks
// start immediately and stop with ctx.
func newServer(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) (_ *server, rerr error) {
	defaults, err := cfg.SettingsDefaults()
	if err != nil {
		return nil, errors.Wrap(err, "settings defaults")
	}
	shipCfg, err := cfg.ShippingDefaults()
	if err != nil {
		return nil, errors.Wrap(err, "shipping defaults")
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	defer func() {
		if rerr != nil {
			pool.Close()
		}
	}()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	meter := m.MeterProvider().Meter("github.com/storefront/checkout")

	// Storage.
	tx := postgres.NewTransactor(pool)
	runtimeSettings := settings.NewResolver(postgres.NewSettingsRepository(pool), defaults)

	// Domain.
	ledger := order.NewLedger(postgres.NewOrderRepository(pool), tx, cfg.OrderPrefix)
	coupons := coupon.NewEngine(postgres.NewCouponRepository(pool))
	shipper := shipping.NewResolver(postgres.NewShippingRepository(pool), runtimeSettings, shipCfg)
	stock, err := inventory.NewStore(postgres.NewInventoryRepository(pool), meter)
	if err != nil {
		return nil, errors.Wrap(err, "create inventory store")
	}

	gateway := stripe.New(stripe.Options{
		BaseURL:   cfg.Payment.BaseURL,
		Tolerance: cfg.Payment.WebhookTolerance,
		HTTPClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
		},
	})

	dispatcher := notify.NewDispatcher(notify.NewLog(lg.Named("notify"), cfg.AdminEmail), notify.Config{
		Concurrency: cfg.Notify.Concurrency,
		Timeout:     cfg.Notify.Timeout,
	})

	checkout, err := order.NewCheckout(order.CheckoutDeps{
		Ledger:   ledger,
		Tx:       tx,
		Products: postgres.NewProductRepository(pool),
		Coupons:  coupons,
		Shipping: shipper,
		Settings: runtimeSettings,
		Gateway:  gateway,
		Notifier: dispatcher,
		Meter:    meter,
	}, order.CheckoutConfig{
		Currency:       cfg.Payment.Currency,
		PaymentTimeout: cfg.Payment.Timeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create checkout")
	}

	reconciler, err := reconcile.New(reconcile.Deps{
		Gateway:   gateway,
		Secrets:   runtimeSettings,
		Tx:        tx,
		Events:    postgres.NewEventLog(pool),
		Ledger:    ledger,
		Inventory: stock,
		Notifier:  dispatcher,
		Meter:     meter,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create reconciler")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)

	// HTTP.
	h := handler.NewHandler(handler.Deps{
		Checkout:  checkout,
		Ledger:    ledger,
		Coupons:   coupons,
		Shipping:  shipper,
		Inventory: stock,
		Webhooks:  reconciler,
		Notifier:  dispatcher,
		Security:  handler.NewSecurityHandler(postgres.NewAPIKeyRepository(pool), []byte(cfg.APIKeyPepper)),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux, apiPrefix)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	return &server{
		health:     healthSvc,
		dispatcher: dispatcher,
		pool:       pool,
		http: &http.Server{
			ReadHeaderTimeout: time.Second,
			ReadTimeout:       5 * time.Second,
			WriteTimeout:      cfg.Payment.Timeout + 5*time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
			Addr:              cfg.Addr,
			Handler: httpmiddleware.Wrap(mux,
				httpmiddleware.Recovery(),
				httpmiddleware.CORS(httpmiddleware.CORSConfig{
					AllowOrigins:     cfg.CORS.Origins,
					AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
					AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
					AllowCredentials: cfg.CORS.AllowCredentials,
					MaxAge:           86400,
				}),
				httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
					Max:    cfg.RateLimit.Max,
					Window: cfg.RateLimit.Window,
					// Refused deliveries would only be retried by the provider.
					Skip: func(r *http.Request) bool { return r.URL.Path == webhookPath },
				}),
				httpmiddleware.RequestID(),
				httpmiddleware.InjectLogger(lg),
				httpmiddleware.Instrument("storefront-api", routeFinder, m),
				httpmiddleware.LogRequests(routeFinder),
				httpmiddleware.Labeler(routeFinder),
			),
		},
	}, nil
}
