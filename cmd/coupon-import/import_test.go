package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storefront/checkout/internal/domain/coupon"
)

type memSink struct {
	mu      sync.Mutex
	batches int
	byCode  map[string]*coupon.Coupon
	writes  []string
}

func (s *memSink) Write(_ context.Context, batch []*coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byCode == nil {
		s.byCode = make(map[string]*coupon.Coupon)
	}
	s.batches++
	for _, c := range batch {
		s.byCode[c.Code] = c
		s.writes = append(s.writes, c.Code)
	}
	return nil
}

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestImport_LastOccurrenceWins(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.csv.gz",
			"code,description,discount_type,value",
			"save10,Ten off,fixed_amount,10",
			"ONLYA,Only in a,percentage,5",
			"twice,first,percentage,15",
			"twice,second,percentage,16",
		),
		writeGz(t, dir, "b.csv.gz",
			"SAVE10,Ten percent,percentage,10,50,20,100,2026-01-01,2026-12-31",
			"ONLYB,Only in b,percentage,7",
		),
	}

	ctx := context.Background()
	lg := zap.NewNop()
	idx, err := buildIndex(ctx, lg, files)
	require.NoError(t, err)

	sink := &memSink{}
	stats, err := importFiles(ctx, lg, files, idx, sink, 2)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Written)
	assert.Equal(t, 2, stats.Duplicates)

	codes := append([]string(nil), sink.writes...)
	sort.Strings(codes)
	assert.Equal(t, []string{"ONLYA", "ONLYB", "SAVE10", "TWICE"}, codes)

	save := sink.byCode["SAVE10"]
	assert.Equal(t, coupon.DiscountPercentage, save.DiscountType)
	assert.Equal(t, "Ten percent", save.Description)
	require.NotNil(t, save.UsageLimit)
	assert.Equal(t, 100, *save.UsageLimit)
	assert.True(t, save.MaximumDiscount.Valid)
	assert.Equal(t, "second", sink.byCode["TWICE"].Description)
}

func TestImport_BadRowFails(t *testing.T) {
	dir := t.TempDir()
	files := []string{writeGz(t, dir, "a.csv.gz", "OK,fine,percentage,5", "BAD,broken,bogo,1")}

	ctx := context.Background()
	idx, err := buildIndex(ctx, zap.NewNop(), files)
	require.NoError(t, err)

	_, err = importFiles(ctx, zap.NewNop(), files, idx, &memSink{}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, tt := range []struct {
		name    string
		rec     []string
		wantErr string
	}{
		{name: "Minimal", rec: []string{" spring ", "", "percentage", "10"}},
		{name: "EmptyCode", rec: []string{" ", "", "percentage", "10"}, wantErr: "empty code"},
		{name: "UnknownType", rec: []string{"X", "", "bogo", "1"}, wantErr: "unknown discount type"},
		{name: "BadValue", rec: []string{"X", "", "percentage", "ten"}, wantErr: "value"},
		{name: "NegativeValue", rec: []string{"X", "", "fixed_amount", "-1"}, wantErr: "negative value"},
		{name: "PercentAbove100", rec: []string{"X", "", "percentage", "101"}, wantErr: "above 100"},
		{name: "BadLimit", rec: []string{"X", "", "percentage", "1", "", "", "-2"}, wantErr: "usage_limit"},
		{
			name:    "UntilBeforeFrom",
			rec:     []string{"X", "", "percentage", "1", "", "", "", "2026-05-01", "2026-04-01"},
			wantErr: "valid_until",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c, err := parseRecord(tt.rec, now)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "SPRING", c.Code)
			assert.True(t, c.Value.Equal(decimal.NewFromInt(10)))
			assert.Equal(t, now, c.ValidFrom)
			assert.Nil(t, c.ValidUntil)
			assert.False(t, c.MinimumOrderAmount.Valid)
			assert.True(t, c.IsActive)
		})
	}
}
