package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

// memRepo applies deltas under a lock, standing in for the single UPDATE.
type memRepo struct {
	mu    sync.Mutex
	stock map[string]int
	calls int
	err   error
}

func (m *memRepo) apply(productID string, delta int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return Level{}, m.err
	}
	q, ok := m.stock[productID]
	if !ok {
		return Level{}, ErrProductNotFound
	}
	q += delta
	m.stock[productID] = q
	return Level{ProductID: productID, StockQuantity: q, InStock: q > 0}, nil
}

func (m *memRepo) Decrement(_ context.Context, productID string, qty int) (Level, error) {
	return m.apply(productID, -qty)
}

func (m *memRepo) Adjust(_ context.Context, productID string, delta int) (Level, error) {
	return m.apply(productID, delta)
}

func newTestStore(t *testing.T, repo Repository) *Store {
	t.Helper()
	s, err := NewStore(repo, noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return s
}

func TestStore_Decrement(t *testing.T) {
	repo := &memRepo{stock: map[string]int{"p1": 5}}
	s := newTestStore(t, repo)

	level, err := s.Decrement(context.Background(), "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, level.StockQuantity)
	assert.True(t, level.InStock)
}

func TestStore_DecrementInvalidQuantity(t *testing.T) {
	repo := &memRepo{stock: map[string]int{"p1": 5}}
	s := newTestStore(t, repo)

	for _, qty := range []int{0, -1} {
		_, err := s.Decrement(context.Background(), "p1", qty)
		require.ErrorIs(t, err, ErrInvalidQuantity)
	}
	assert.Zero(t, repo.calls)
}

func TestStore_DecrementUnknownProduct(t *testing.T) {
	s := newTestStore(t, &memRepo{stock: map[string]int{}})
	_, err := s.Decrement(context.Background(), "nope", 1)
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestStore_ConcurrentDecrementsAreNotLost(t *testing.T) {
	repo := &memRepo{stock: map[string]int{"last-unit": 1}}
	s := newTestStore(t, repo)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Decrement(context.Background(), "last-unit", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, -1, repo.stock["last-unit"])
}

func TestStore_DecrementLines(t *testing.T) {
	repo := &memRepo{stock: map[string]int{"a": 3, "b": 1}}
	s := newTestStore(t, repo)

	err := s.DecrementLines(context.Background(), []Line{
		{ProductID: "a", Quantity: 2},
		{ProductID: "b", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.stock["a"])
	assert.Equal(t, 0, repo.stock["b"])
}

func TestStore_DecrementLinesStopsOnError(t *testing.T) {
	repo := &memRepo{stock: map[string]int{"a": 3}, err: errors.New("deadlock detected")}
	s := newTestStore(t, repo)

	err := s.DecrementLines(context.Background(), []Line{
		{ProductID: "a", Quantity: 1},
		{ProductID: "a", Quantity: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrement stock of a")
	assert.Equal(t, 1, repo.calls)
}

func TestStore_Adjust(t *testing.T) {
	repo := &memRepo{stock: map[string]int{"p1": 0}}
	s := newTestStore(t, repo)

	_, err := s.Adjust(context.Background(), "p1", 0)
	require.ErrorIs(t, err, ErrZeroAdjustment)

	level, err := s.Adjust(context.Background(), "p1", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, level.StockQuantity)
	assert.True(t, level.InStock)
}
