package provider

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundsync/internal/cache"
	"fundsync/internal/dto"
	apperrors "fundsync/internal/errors"
)

type fakeTransport struct {
	infoCalls     int
	historyCalls  int
	holdingsCalls int
	err           error
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) FetchInfo(ctx context.Context, ticker string) (dto.FundInfo, error) {
	f.infoCalls++
	if f.err != nil {
		return dto.FundInfo{}, f.err
	}
	return dto.FundInfo{Ticker: ticker, Name: ticker + " Fund"}, nil
}

func (f *fakeTransport) FetchHistory(ctx context.Context, ticker string, start, end time.Time, intervalMinutes int) ([]dto.PerformancePoint, error) {
	f.historyCalls++
	if f.err != nil {
		return nil, f.err
	}
	closePrice := decimal.RequireFromString("101.25")
	return []dto.PerformancePoint{{Ticker: ticker, Date: start, Close: &closePrice}}, nil
}

func (f *fakeTransport) FetchHoldings(ctx context.Context, ticker string) ([]dto.Holding, error) {
	f.holdingsCalls++
	if f.err != nil {
		return nil, f.err
	}
	weight := decimal.RequireFromString("5.5")
	return []dto.Holding{{Ticker: "AAPL", Name: "Apple Inc", Weight: &weight}}, nil
}

func newTestClient(t *testing.T, transport Transport, limiter *RateLimiter, opts ClientOptions) *Client {
	t.Helper()
	health := NewHealthMonitor(transport.Name(), StatusActive, 100, DefaultFailureThreshold, DefaultSmoothingAlpha)
	state := &State{Name: transport.Name(), Status: StatusActive, ReliabilityScore: 100}
	return NewClient(transport, limiter, health, state, opts)
}

func TestCacheHitBypassesRateLimiter(t *testing.T) {
	transport := &fakeTransport{}
	limiter := NewRateLimiter("fake", 1, time.Hour, false)
	mc := cache.NewMemoryCache(100)
	defer mc.Close()

	client := newTestClient(t, transport, limiter, ClientOptions{Cache: mc, CacheTTL: time.Minute})
	ctx := context.Background()

	info, err := client.FetchInfo(ctx, "VWCE")
	require.NoError(t, err)
	assert.Equal(t, "VWCE Fund", info.Name)

	// Budget is exhausted, but the repeat call is a cache hit and must not
	// touch the limiter or the transport.
	info, err = client.FetchInfo(ctx, "VWCE")
	require.NoError(t, err)
	assert.Equal(t, "VWCE Fund", info.Name)
	assert.Equal(t, 1, transport.infoCalls)
}

func TestRateLimitFailFast(t *testing.T) {
	transport := &fakeTransport{}
	limiter := NewRateLimiter("fake", 1, time.Hour, false)
	client := newTestClient(t, transport, limiter, ClientOptions{})
	ctx := context.Background()

	_, err := client.FetchInfo(ctx, "AAA")
	require.NoError(t, err)

	_, err = client.FetchInfo(ctx, "BBB")
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimit(err))
	assert.Equal(t, StatusRateLimited, client.Health().Status())
	assert.Equal(t, 1, transport.infoCalls)
}

func TestRateLimitedSelfClearsWithCapacity(t *testing.T) {
	transport := &fakeTransport{}
	limiter := NewRateLimiter("fake", 1, 80*time.Millisecond, true)
	client := newTestClient(t, transport, limiter, ClientOptions{})
	ctx := context.Background()

	_, err := client.FetchInfo(ctx, "AAA")
	require.NoError(t, err)
	_, err = client.FetchInfo(ctx, "BBB")
	require.True(t, apperrors.IsRateLimit(err))
	require.Equal(t, StatusRateLimited, client.Health().Status())

	time.Sleep(120 * time.Millisecond)

	_, err = client.FetchInfo(ctx, "CCC")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, client.Health().Status())
}

func TestRateLimitDenialUpdatesStateStatus(t *testing.T) {
	transport := &fakeTransport{}
	limiter := NewRateLimiter("fake", 1, time.Hour, false)
	client := newTestClient(t, transport, limiter, ClientOptions{})
	ctx := context.Background()

	_, err := client.FetchInfo(ctx, "AAA")
	require.NoError(t, err)

	_, err = client.FetchInfo(ctx, "BBB")
	require.True(t, apperrors.IsRateLimit(err))

	// The state copy must agree with the monitor, not lag behind it.
	assert.Equal(t, StatusRateLimited, client.State().Status)
}

func TestStateReadsSafeDuringConcurrentCalls(t *testing.T) {
	transport := &fakeTransport{}
	limiter := NewRateLimiter("fake", 100000, time.Hour, false)
	client := newTestClient(t, transport, limiter, ClientOptions{})
	ctx := context.Background()

	const calls = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < calls; i++ {
			_, _ = client.FetchInfo(ctx, "VWCE")
		}
	}()

	// Read the state the way the API status endpoint does while the fetch
	// loop is mutating it.
	for reading := true; reading; {
		select {
		case <-done:
			reading = false
		default:
			_ = client.State()
		}
	}

	state := client.State()
	assert.Equal(t, calls, state.WindowRequests)
	assert.Equal(t, StatusActive, state.Status)
}

func TestGatedProviderRejectsBeforeTransport(t *testing.T) {
	transport := &fakeTransport{}
	limiter := NewRateLimiter("fake", 10, time.Hour, false)
	client := newTestClient(t, transport, limiter, ClientOptions{})

	client.Health().SetMaintenance()

	_, err := client.FetchInfo(context.Background(), "VWCE")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeProviderGated))
	assert.Equal(t, 0, transport.infoCalls)
}

func TestFailureReportsToHealthMonitor(t *testing.T) {
	transport := &fakeTransport{err: apperrors.NewDataNotFoundError("fake", "NOPE")}
	limiter := NewRateLimiter("fake", 10, time.Hour, false)
	client := newTestClient(t, transport, limiter, ClientOptions{})
	ctx := context.Background()

	_, err := client.FetchInfo(ctx, "NOPE")
	require.True(t, apperrors.IsDataNotFound(err))
	assert.Equal(t, 1, client.Health().ConsecutiveFailures())
	assert.Less(t, client.Health().ReliabilityScore(), 100.0)

	// No automatic retry: one call, one transport invocation.
	assert.Equal(t, 1, transport.infoCalls)
}

func TestBreakerGatesAfterConsecutiveFailures(t *testing.T) {
	transport := &fakeTransport{err: apperrors.NewDataSourceError("fake", assert.AnError)}
	limiter := NewRateLimiter("fake", 100, time.Hour, false)
	client := newTestClient(t, transport, limiter, ClientOptions{})
	ctx := context.Background()

	for i := 0; i < DefaultFailureThreshold; i++ {
		_, err := client.FetchInfo(ctx, "VWCE")
		require.Error(t, err)
	}
	assert.Equal(t, DefaultFailureThreshold, transport.infoCalls)

	// The breaker is now open; the transport is never reached again.
	_, err := client.FetchInfo(ctx, "VWCE")
	require.True(t, apperrors.IsCode(err, apperrors.ErrCodeProviderGated))
	assert.Equal(t, DefaultFailureThreshold, transport.infoCalls)
}

func TestFetchHistoryRoundTrip(t *testing.T) {
	transport := &fakeTransport{}
	limiter := NewRateLimiter("fake", 10, time.Hour, false)
	client := newTestClient(t, transport, limiter, ClientOptions{})

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	points, err := client.FetchHistory(context.Background(), "VWCE", start, start.AddDate(0, 0, 7), 1440)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.NotNil(t, points[0].Close)
	assert.True(t, points[0].Close.Equal(decimal.RequireFromString("101.25")))
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	transport := &fakeTransport{}
	limiter := NewRateLimiter("fake", 10, time.Hour, false)
	client := newTestClient(t, transport, limiter, ClientOptions{})

	require.NoError(t, registry.Register(client))
	assert.Error(t, registry.Register(client), "duplicate registration must conflict")

	got, err := registry.Get("fake")
	require.NoError(t, err)
	assert.Equal(t, "fake", got.Name())

	_, err = registry.Get("missing")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))

	assert.Equal(t, []string{"fake"}, registry.Names())
}
