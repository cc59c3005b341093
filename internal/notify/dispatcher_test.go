package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/storefront/checkout/internal/domain/notify"
)

// blockingNotifier blocks every delivery until release is closed or the
// delivery context ends.
type blockingNotifier struct {
	release chan struct{}
	started chan string

	mu       sync.Mutex
	done     []string
	timedOut int
	err      error
}

func newBlockingNotifier() *blockingNotifier {
	return &blockingNotifier{release: make(chan struct{}), started: make(chan string, 16)}
}

func (b *blockingNotifier) deliver(ctx context.Context, kind string) error {
	b.started <- kind
	select {
	case <-b.release:
	case <-ctx.Done():
		b.mu.Lock()
		b.timedOut++
		b.mu.Unlock()
		return ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = append(b.done, kind)
	return b.err
}

func (b *blockingNotifier) OrderPlaced(ctx context.Context, _ notify.Order) error {
	return b.deliver(ctx, "placed")
}

func (b *blockingNotifier) AdminNewOrder(ctx context.Context, _ notify.Order) error {
	return b.deliver(ctx, "admin")
}

func (b *blockingNotifier) PaymentConfirmed(ctx context.Context, _ notify.Order) error {
	return b.deliver(ctx, "confirmed")
}

func (b *blockingNotifier) PaymentFailed(ctx context.Context, _ notify.Order) error {
	return b.deliver(ctx, "failed")
}

func (b *blockingNotifier) StatusChanged(ctx context.Context, _ notify.Order) error {
	return b.deliver(ctx, "status")
}

func TestDispatcher_ReturnsBeforeDelivery(t *testing.T) {
	next := newBlockingNotifier()
	d := NewDispatcher(next, Config{Concurrency: 2, Timeout: time.Minute})

	require.NoError(t, d.OrderPlaced(context.Background(), notify.Order{ID: "o1"}))
	require.NoError(t, d.AdminNewOrder(context.Background(), notify.Order{ID: "o1"}))
	<-next.started
	<-next.started

	close(next.release)
	require.NoError(t, d.Close(context.Background()))
	assert.ElementsMatch(t, []string{"placed", "admin"}, next.done)
}

func TestDispatcher_Saturated(t *testing.T) {
	next := newBlockingNotifier()
	d := NewDispatcher(next, Config{Concurrency: 1, Timeout: time.Minute})

	require.NoError(t, d.PaymentConfirmed(context.Background(), notify.Order{ID: "o1"}))
	<-next.started

	err := d.PaymentFailed(context.Background(), notify.Order{ID: "o2"})
	require.ErrorIs(t, err, ErrSaturated)

	close(next.release)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, []string{"confirmed"}, next.done)
}

func TestDispatcher_SurvivesRequestCancellation(t *testing.T) {
	next := newBlockingNotifier()
	d := NewDispatcher(next, Config{Concurrency: 1, Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.StatusChanged(ctx, notify.Order{ID: "o1"}))
	<-next.started
	cancel()

	close(next.release)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, []string{"status"}, next.done)
	assert.Zero(t, next.timedOut)
}

func TestDispatcher_TimeoutBoundsDelivery(t *testing.T) {
	next := newBlockingNotifier()
	d := NewDispatcher(next, Config{Concurrency: 1, Timeout: 20 * time.Millisecond})

	require.NoError(t, d.OrderPlaced(context.Background(), notify.Order{ID: "o1"}))
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 1, next.timedOut)
	assert.Empty(t, next.done)
}

func TestDispatcher_DeliveryErrorIsSwallowed(t *testing.T) {
	next := newBlockingNotifier()
	next.err = errors.New("smtp: 421 try again later")
	close(next.release)
	d := NewDispatcher(next, Config{Concurrency: 1, Timeout: time.Second})

	require.NoError(t, d.PaymentFailed(context.Background(), notify.Order{ID: "o1"}))
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_Close(t *testing.T) {
	next := newBlockingNotifier()
	d := NewDispatcher(next, Config{Concurrency: 1, Timeout: time.Minute})

	require.NoError(t, d.OrderPlaced(context.Background(), notify.Order{ID: "o1"}))
	<-next.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, d.Close(ctx))

	require.ErrorIs(t, d.OrderPlaced(context.Background(), notify.Order{ID: "o2"}), ErrClosed)
	close(next.release)
}

func TestDispatcher_CloseWhileDispatching(t *testing.T) {
	const (
		senders = 8
		perSend = 16
	)
	next := &blockingNotifier{release: make(chan struct{}), started: make(chan string, senders*perSend)}
	close(next.release)
	d := NewDispatcher(next, Config{Concurrency: 4, Timeout: time.Second})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perSend {
				err := d.OrderPlaced(context.Background(), notify.Order{ID: "o"})
				switch {
				case err == nil:
					mu.Lock()
					accepted++
					mu.Unlock()
				case errors.Is(err, ErrSaturated), errors.Is(err, ErrClosed):
				default:
					t.Errorf("sender %d: unexpected error: %v", i, err)
				}
			}
		}()
	}

	require.NoError(t, d.Close(context.Background()))
	closedAt := func() int {
		next.mu.Lock()
		defer next.mu.Unlock()
		return len(next.done)
	}()
	wg.Wait()

	// Nothing is accepted after Close returns, so every accepted delivery
	// finished before it.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, accepted, closedAt)
	require.ErrorIs(t, d.StatusChanged(context.Background(), notify.Order{ID: "late"}), ErrClosed)
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := NewLog(zap.New(core), "ops@example.com")
	o := notify.Order{ID: "o1", Number: "SF-1", CustomerEmail: "ada@example.com", Total: "65.99", Reason: "card declined"}

	require.NoError(t, l.AdminNewOrder(context.Background(), o))
	require.NoError(t, l.PaymentFailed(context.Background(), o))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "ops@example.com", entries[0].ContextMap()["to"])
	assert.Equal(t, "ada@example.com", entries[1].ContextMap()["to"])
	assert.Equal(t, "card declined", entries[1].ContextMap()["reason"])

	silent := NewLog(zap.New(core), "")
	require.NoError(t, silent.AdminNewOrder(context.Background(), o))
	assert.Equal(t, 2, logs.Len())
}
