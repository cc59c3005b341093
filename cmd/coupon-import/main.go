// Command coupon-import bulk-loads coupons from gzip-compressed CSV files.
//
// Each file holds rows of
//
//	code,description,discount_type,value,minimum_order_amount,maximum_discount,usage_limit,valid_from,valid_until
//
// with an optional header row. Empty optional columns mean "not set". A code
// that appears more than once across the input is imported once, from its
// last occurrence in argument order.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/storefront/checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		batchSize   int
		dryRun      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", 500, "coupons written per transaction")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and deduplicate without writing")
	flag.Parse()

	lg := zap.Must(zap.NewDevelopment())
	defer func() { _ = lg.Sync() }()

	files := flag.Args()
	if len(files) == 0 {
		lg.Fatal("Usage: coupon-import [flags] FILE.csv.gz...")
	}
	if len(files) > maxFiles {
		lg.Fatal("Too many input files", zap.Int("max", maxFiles))
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, files, batchSize, dryRun); err != nil {
		lg.Fatal("Coupon import failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, files []string, batchSize int, dryRun bool) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	lg.Info("Pass 1: indexing codes", zap.Int("files", len(files)))
	idx, err := buildIndex(ctx, lg, files)
	if err != nil {
		return errors.Wrap(err, "index codes")
	}

	var sink Sink = discard{}
	if !dryRun {
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()
		sink = &repoSink{
			tx:   postgres.NewTransactor(pool),
			repo: postgres.NewCouponRepository(pool),
		}
	}

	lg.Info("Pass 2: importing coupons")
	stats, err := importFiles(ctx, lg, files, idx, sink, batchSize)
	if err != nil {
		return errors.Wrap(err, "import coupons")
	}
	lg.Info("Coupon import completed",
		zap.Int("written", stats.Written),
		zap.Int("duplicates", stats.Duplicates),
		zap.Bool("dry_run", dryRun),
	)
	return nil
}
