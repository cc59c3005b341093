package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/storefront/checkout/internal/domain/coupon"
)

const (
	bloomCapacity = 5_000_000
	bloomFPR      = 0.001
	maxFiles      = 64
	progressEvery = 1_000_000
	minColumns    = 4
)

// Sink persists parsed coupons. Write may be called concurrently.
type Sink interface {
	Write(ctx context.Context, batch []*coupon.Coupon) error
}

// Transactor runs fn inside one database transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type repoSink struct {
	tx   Transactor
	repo coupon.Repository
}

func (s *repoSink) Write(ctx context.Context, batch []*coupon.Coupon) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, c := range batch {
			if err := s.repo.Upsert(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

type discard struct{}

func (discard) Write(context.Context, []*coupon.Coupon) error { return nil }

// index answers whether a code may occur more than once across the input.
// False positives only route a unique code through the exact duplicate path.
type index struct {
	filters []*bloom.BloomFilter
	// repeats holds codes seen twice inside the same file.
	repeats []map[string]struct{}
}

func (x *index) mayRepeat(file int, code string) bool {
	if _, ok := x.repeats[file][code]; ok {
		return true
	}
	for j, f := range x.filters {
		if j != file && f.TestString(code) {
			return true
		}
	}
	return false
}

// buildIndex streams every file concurrently and builds one bloom filter per
// file.
func buildIndex(ctx context.Context, lg *zap.Logger, files []string) (*index, error) {
	x := &index{
		filters: make([]*bloom.BloomFilter, len(files)),
		repeats: make([]map[string]struct{}, len(files)),
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			repeats := make(map[string]struct{})
			var count int
			err := readRecords(ctx, path, func(_ int, rec []string) error {
				code := coupon.NormalizeCode(rec[0])
				if code == "" {
					return nil
				}
				if filter.TestOrAddString(code) {
					repeats[code] = struct{}{}
				}
				count++
				if count%progressEvery == 0 {
					lg.Info("Pass 1 progress", zap.String("file", path), zap.Int("codes", count))
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "index %s", path)
			}
			lg.Info("Pass 1 complete", zap.String("file", path), zap.Int("codes", count))
			x.filters[i] = filter
			x.repeats[i] = repeats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return x, nil
}

type candidate struct {
	coupon *coupon.Coupon
	seen   int
}

// Stats summarizes an import.
type Stats struct {
	Written    int
	Duplicates int
}

// importFiles parses every file concurrently. Codes that cannot repeat are
// written as they stream; possible repeats are collected and written last so
// the last occurrence in argument order wins.
func importFiles(ctx context.Context, lg *zap.Logger, files []string, x *index, sink Sink, batchSize int) (Stats, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	now := time.Now().UTC()
	var written atomic.Int64
	held := make([]map[string]*candidate, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			cands := make(map[string]*candidate)
			batch := make([]*coupon.Coupon, 0, batchSize)
			flush := func() error {
				if len(batch) == 0 {
					return nil
				}
				if err := sink.Write(ctx, batch); err != nil {
					return err
				}
				written.Add(int64(len(batch)))
				batch = make([]*coupon.Coupon, 0, batchSize)
				return nil
			}

			err := readRecords(ctx, path, func(line int, rec []string) error {
				c, err := parseRecord(rec, now)
				if err != nil {
					return errors.Wrapf(err, "line %d", line)
				}
				if x.mayRepeat(i, c.Code) {
					if prev, ok := cands[c.Code]; ok {
						prev.coupon = c
						prev.seen++
					} else {
						cands[c.Code] = &candidate{coupon: c, seen: 1}
					}
					return nil
				}
				batch = append(batch, c)
				if len(batch) == batchSize {
					return flush()
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "import %s", path)
			}
			if err := flush(); err != nil {
				return errors.Wrapf(err, "import %s", path)
			}
			held[i] = cands
			lg.Info("Pass 2 complete", zap.String("file", path), zap.Int("held", len(cands)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	merged := make(map[string]*candidate)
	for _, cands := range held {
		for code, c := range cands {
			if prev, ok := merged[code]; ok {
				prev.coupon = c.coupon
				prev.seen += c.seen
				continue
			}
			merged[code] = c
		}
	}

	stats := Stats{}
	batch := make([]*coupon.Coupon, 0, batchSize)
	for _, c := range merged {
		stats.Duplicates += c.seen - 1
		batch = append(batch, c.coupon)
		if len(batch) == batchSize {
			if err := sink.Write(ctx, batch); err != nil {
				return Stats{}, err
			}
			written.Add(int64(len(batch)))
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := sink.Write(ctx, batch); err != nil {
			return Stats{}, err
		}
		written.Add(int64(len(batch)))
	}
	stats.Written = int(written.Load())
	return stats, nil
}

// readRecords decodes a gzip CSV file and calls fn for every data row. A
// first row starting with "code" is treated as a header.
func readRecords(ctx context.Context, path string, fn func(line int, rec []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.ReuseRecord = true

	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read csv")
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "code") {
			continue
		}
		if len(rec) < minColumns {
			return errors.Errorf("line %d: want at least %d columns, got %d", line, minColumns, len(rec))
		}
		if err := fn(line, rec); err != nil {
			return err
		}
	}
}

// parseRecord converts one CSV row into a coupon. Coupons without valid_from
// become valid at now.
func parseRecord(rec []string, now time.Time) (*coupon.Coupon, error) {
	col := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	c := &coupon.Coupon{
		Code:         coupon.NormalizeCode(col(0)),
		Description:  col(1),
		DiscountType: coupon.DiscountType(strings.ToLower(col(2))),
		ValidFrom:    now,
		IsActive:     true,
	}
	if c.Code == "" {
		return nil, errors.New("empty code")
	}
	if !c.DiscountType.Valid() {
		return nil, errors.Errorf("coupon %s: unknown discount type %q", c.Code, col(2))
	}

	var err error
	if c.Value, err = decimal.NewFromString(col(3)); err != nil {
		return nil, errors.Wrapf(err, "coupon %s: value", c.Code)
	}
	if c.Value.IsNegative() {
		return nil, errors.Errorf("coupon %s: negative value", c.Code)
	}
	if c.DiscountType == coupon.DiscountPercentage && c.Value.GreaterThan(decimal.NewFromInt(100)) {
		return nil, errors.Errorf("coupon %s: percentage above 100", c.Code)
	}
	if c.MinimumOrderAmount, err = optDecimal(col(4)); err != nil {
		return nil, errors.Wrapf(err, "coupon %s: minimum_order_amount", c.Code)
	}
	if c.MaximumDiscount, err = optDecimal(col(5)); err != nil {
		return nil, errors.Wrapf(err, "coupon %s: maximum_discount", c.Code)
	}
	if v := col(6); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, errors.Errorf("coupon %s: invalid usage_limit %q", c.Code, v)
		}
		c.UsageLimit = &n
	}
	if v := col(7); v != "" {
		if c.ValidFrom, err = parseTime(v); err != nil {
			return nil, errors.Wrapf(err, "coupon %s: valid_from", c.Code)
		}
	}
	if v := col(8); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, errors.Wrapf(err, "coupon %s: valid_until", c.Code)
		}
		if !t.After(c.ValidFrom) {
			return nil, errors.Errorf("coupon %s: valid_until not after valid_from", c.Code)
		}
		c.ValidUntil = &t
	}
	return c, nil
}

func optDecimal(v string) (decimal.NullDecimal, error) {
	if v == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if d.IsNegative() {
		return decimal.NullDecimal{}, errors.New("negative amount")
	}
	return decimal.NewNullDecimal(d), nil
}

// parseTime accepts RFC 3339 timestamps and plain dates (UTC midnight).
func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}
