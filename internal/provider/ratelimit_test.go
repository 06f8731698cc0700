package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "fundsync/internal/errors"
	"fundsync/internal/metrics"
)

func TestFixedWindowBudgetExhaustion(t *testing.T) {
	l := NewRateLimiter("test", 3, time.Hour, false)

	for i := 0; i < 3; i++ {
		assert.True(t, l.TryAcquire(), "acquire %d should succeed", i)
	}
	// The (N+1)th never silently succeeds.
	assert.False(t, l.TryAcquire())
	assert.False(t, l.HasCapacity())
	assert.Greater(t, l.RetryAfter(), time.Duration(0))
}

func TestFixedWindowResetsAtBoundary(t *testing.T) {
	current := time.Date(2024, 5, 1, 23, 59, 59, 0, time.UTC)
	l := NewRateLimiter("test", 1, 24*time.Hour, false)
	l.now = func() time.Time { return current }

	require.True(t, l.TryAcquire())
	require.False(t, l.TryAcquire())

	// Crossing UTC midnight resets the counter deterministically.
	current = time.Date(2024, 5, 2, 0, 0, 1, 0, time.UTC)
	assert.True(t, l.TryAcquire())
}

func TestSlidingWindowRecomputesCutoff(t *testing.T) {
	current := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter("test", 2, time.Minute, true)
	l.now = func() time.Time { return current }

	require.True(t, l.TryAcquire())
	current = current.Add(30 * time.Second)
	require.True(t, l.TryAcquire())
	require.False(t, l.TryAcquire())

	// 31 seconds later the first stamp has aged out but the second has not.
	current = current.Add(31 * time.Second)
	assert.True(t, l.HasCapacity())
	require.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
}

func TestTryAcquireConcurrentNeverOversubscribes(t *testing.T) {
	const budget = 50
	l := NewRateLimiter("test", budget, time.Hour, false)

	var granted int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				atomic.AddInt64(&granted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(budget), granted)
}

func TestAcquireBlockingTimesOut(t *testing.T) {
	l := NewRateLimiter("test", 1, time.Hour, false)
	require.True(t, l.TryAcquire())

	start := time.Now()
	err := l.AcquireBlocking(context.Background(), 120*time.Millisecond)

	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimit(err))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestAcquireBlockingCountsOneDenial(t *testing.T) {
	l := NewRateLimiter("denial-count", 1, time.Hour, false)
	require.True(t, l.TryAcquire())

	counter := metrics.RateLimitDenials.WithLabelValues("denial-count")
	before := testutil.ToFloat64(counter)

	// The wait polls several times before timing out, but the caller saw
	// exactly one denial.
	err := l.AcquireBlocking(context.Background(), 120*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestAcquireBlockingSucceedsWhenCapacityFrees(t *testing.T) {
	l := NewRateLimiter("test", 1, 150*time.Millisecond, true)
	require.True(t, l.TryAcquire())

	err := l.AcquireBlocking(context.Background(), time.Second)
	assert.NoError(t, err)
}

func TestAcquireBlockingRespectsContext(t *testing.T) {
	l := NewRateLimiter("test", 1, time.Hour, false)
	require.True(t, l.TryAcquire())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := l.AcquireBlocking(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
