package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakePool struct {
	down atomic.Bool
}

func (p *fakePool) Ping(context.Context) error {
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func hit(t *testing.T, endpoint http.HandlerFunc) (int, statusResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func TestReadyEndpoint_DatabaseDown(t *testing.T) {
	pool := &fakePool{}
	h := New()
	h.AddReadinessCheck("postgres", time.Second, PingCheck(pool))
	h.SetReady(true)
	c := h.readiness[0]
	ctx := context.Background()

	code, body := hit(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)

	pool.down.Store(true)
	c.run(ctx)
	c.run(ctx)
	code, _ = hit(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code, "two failures stay below the threshold")

	c.run(ctx)
	code, body = hit(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "ping: connection refused", body.Checks["postgres"])
	assert.False(t, h.IsReady())

	pool.down.Store(false)
	assert.True(t, c.run(ctx), "one success recovers")
	assert.True(t, h.IsReady())
}

func TestReadyEndpoint_NotMarkedReady(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, PingCheck(&fakePool{}))

	code, body := hit(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks, "_readiness")
	assert.NotContains(t, body.Checks, "postgres")

	h.SetReady(true)
	code, _ = hit(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)

	// Draining on shutdown.
	h.SetReady(false)
	code, _ = hit(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	code, body := hit(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)

	h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(0))
	for range failureThreshold {
		h.liveness[0].run(context.Background())
	}
	code, body = hit(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks["goroutines"], "exceeds threshold")
}

func TestStart_LogsStateChanges(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	pool := &fakePool{}
	pool.down.Store(true)
	h := New()
	h.AddReadinessCheck("postgres", time.Second, PingCheck(pool))
	h.Start(ctx, 5*time.Millisecond)
	defer h.Stop()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("Health check failing").Len() == 1
	}, time.Second, 5*time.Millisecond)

	pool.down.Store(false)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("Health check recovered").Len() == 1
	}, time.Second, 5*time.Millisecond)

	entry := logs.FilterMessage("Health check failing").All()[0]
	assert.Equal(t, "postgres", entry.ContextMap()["check"])
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(0))
	h.AddReadinessCheck("postgres", time.Second, PingCheck(&fakePool{}))
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()
	h.Stop()
	h.Stop()
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	assert.ErrorContains(t, GoroutineCountCheck(0)(context.Background()), "exceeds threshold")
}
