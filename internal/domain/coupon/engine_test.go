package coupon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockCouponRepo struct {
	mu        sync.Mutex
	coupon    *Coupon
	err       error
	incrErr   error
	lookedUp  string
	increment int
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	m.lookedUp = code
	if m.err != nil {
		return nil, m.err
	}
	if m.coupon == nil {
		return nil, ErrNotFound
	}
	c := *m.coupon
	return &c, nil
}

// IncrementUsage mirrors the guarded UPDATE: the check and the increment
// happen under one lock.
func (m *mockCouponRepo) IncrementUsage(_ context.Context, _ int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incrErr != nil {
		return false, m.incrErr
	}
	now := time.Now()
	c := m.coupon
	if !c.IsActive || now.Before(c.ValidFrom) || (c.ValidUntil != nil && now.After(*c.ValidUntil)) || c.Exhausted() {
		return false, nil
	}
	m.coupon.UsedCount++
	m.increment++
	return true, nil
}

func (m *mockCouponRepo) Upsert(_ context.Context, c *Coupon) error {
	m.coupon = c
	return nil
}

func intPtr(v int) *int { return &v }

func TestEngine_Validate(t *testing.T) {
	fixedNow := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-24 * time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	base := func(mut func(c *Coupon)) *Coupon {
		c := &Coupon{
			ID:           1,
			Code:         "SAVE20",
			DiscountType: DiscountPercentage,
			Value:        d("20"),
			ValidFrom:    past,
			IsActive:     true,
		}
		if mut != nil {
			mut(c)
		}
		return c
	}

	tests := []struct {
		name       string
		repo       *mockCouponRepo
		code       string
		subtotal   decimal.Decimal
		wantAmount decimal.Decimal
		wantErr    error
	}{
		{
			name:       "percentage coupon on $100",
			repo:       &mockCouponRepo{coupon: base(nil)},
			code:       "save20",
			subtotal:   d("100"),
			wantAmount: d("20"),
		},
		{
			name:     "empty code",
			repo:     &mockCouponRepo{},
			code:     "   ",
			subtotal: d("100"),
			wantErr:  ErrCodeRequired,
		},
		{
			name:     "unknown code",
			repo:     &mockCouponRepo{},
			code:     "BOGUS",
			subtotal: d("100"),
			wantErr:  ErrNotFound,
		},
		{
			name:     "inactive",
			repo:     &mockCouponRepo{coupon: base(func(c *Coupon) { c.IsActive = false })},
			code:     "SAVE20",
			subtotal: d("100"),
			wantErr:  ErrInactive,
		},
		{
			name:     "not yet valid",
			repo:     &mockCouponRepo{coupon: base(func(c *Coupon) { c.ValidFrom = future })},
			code:     "SAVE20",
			subtotal: d("100"),
			wantErr:  ErrNotYetValid,
		},
		{
			name:     "expired",
			repo:     &mockCouponRepo{coupon: base(func(c *Coupon) { c.ValidUntil = &past })},
			code:     "SAVE20",
			subtotal: d("100"),
			wantErr:  ErrExpired,
		},
		{
			name:       "valid until in future",
			repo:       &mockCouponRepo{coupon: base(func(c *Coupon) { c.ValidUntil = &future })},
			code:       "SAVE20",
			subtotal:   d("50"),
			wantAmount: d("10"),
		},
		{
			name:     "below minimum",
			repo:     &mockCouponRepo{coupon: base(func(c *Coupon) { c.MinimumOrderAmount = capped("150") })},
			code:     "SAVE20",
			subtotal: d("100"),
			wantErr:  ErrBelowMinimum,
		},
		{
			name:       "exactly at minimum",
			repo:       &mockCouponRepo{coupon: base(func(c *Coupon) { c.MinimumOrderAmount = capped("100") })},
			code:       "SAVE20",
			subtotal:   d("100"),
			wantAmount: d("20"),
		},
		{
			name: "limit reached",
			repo: &mockCouponRepo{coupon: base(func(c *Coupon) {
				c.UsageLimit = intPtr(5)
				c.UsedCount = 5
			})},
			code:     "SAVE20",
			subtotal: d("100"),
			wantErr:  ErrLimitReached,
		},
		{
			name:     "repository failure is wrapped",
			repo:     &mockCouponRepo{err: errors.New("connection refused")},
			code:     "SAVE20",
			subtotal: d("100"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(tt.repo)
			e.now = func() time.Time { return fixedNow }

			got, err := e.Validate(context.Background(), tt.code, nil, tt.subtotal)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			if tt.repo.err != nil {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "lookup coupon")
				return
			}

			require.NoError(t, err)
			assert.True(t, tt.wantAmount.Equal(got.Discount), "expected %s, got %s", tt.wantAmount, got.Discount)
			assert.Equal(t, "SAVE20", tt.repo.lookedUp)
			assert.Zero(t, tt.repo.increment, "validate must not consume a use")
		})
	}
}

func TestEngine_ValidateDerivesSubtotalFromItems(t *testing.T) {
	repo := &mockCouponRepo{coupon: &Coupon{
		ID:           1,
		Code:         "FLAT5",
		DiscountType: DiscountFixedAmount,
		Value:        d("5"),
		IsActive:     true,
	}}
	e := NewEngine(repo)

	got, err := e.Validate(context.Background(), "flat5", []Item{
		{ProductID: "p1", Price: d("2"), Quantity: 1},
	}, decimal.Zero)

	require.NoError(t, err)
	assert.True(t, d("2").Equal(got.Discount))
}

func TestEngine_RedeemConcurrentLastUse(t *testing.T) {
	repo := &mockCouponRepo{coupon: &Coupon{
		ID:         7,
		Code:       "ONCE",
		UsageLimit: intPtr(1),
		IsActive:   true,
	}}
	e := NewEngine(repo)

	const attempts = 2
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = e.Redeem(context.Background(), 7)
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrUnavailable):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 1, repo.coupon.UsedCount)
}

func TestEngine_RedeemRechecksCoupon(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	for _, tt := range []struct {
		name string
		mut  func(c *Coupon)
	}{
		{name: "deactivated", mut: func(c *Coupon) { c.IsActive = false }},
		{name: "expired", mut: func(c *Coupon) { c.ValidUntil = &past }},
		{name: "not yet valid", mut: func(c *Coupon) { c.ValidFrom = time.Now().Add(time.Hour) }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := &Coupon{ID: 3, Code: "SPRING", IsActive: true, ValidFrom: past.Add(-time.Hour)}
			repo := &mockCouponRepo{coupon: c}
			e := NewEngine(repo)
			require.NoError(t, e.Redeem(context.Background(), 3))

			tt.mut(c)
			err := e.Redeem(context.Background(), 3)
			require.ErrorIs(t, err, ErrUnavailable)
			assert.Equal(t, 1, c.UsedCount)
		})
	}
}

func TestEngine_RedeemError(t *testing.T) {
	repo := &mockCouponRepo{coupon: &Coupon{ID: 1}, incrErr: errors.New("db down")}
	err := NewEngine(repo).Redeem(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "increment coupon usage")
}
