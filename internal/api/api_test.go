package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundsync/internal/asset"
	"fundsync/internal/audit"
	"fundsync/internal/config"
	"fundsync/internal/dto"
	apperrors "fundsync/internal/errors"
	"fundsync/internal/provider"
	"fundsync/internal/timeseries"
)

type fakeAssetStore struct {
	assets map[string]*asset.Asset
}

func (s *fakeAssetStore) List(ctx context.Context, f asset.Filter) ([]*asset.Asset, error) {
	var out []*asset.Asset
	for _, a := range s.assets {
		if f.Tier != "" && a.Tier != f.Tier {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *fakeAssetStore) GetByTicker(ctx context.Context, ticker string) (*asset.Asset, error) {
	if a, ok := s.assets[ticker]; ok {
		return a, nil
	}
	return nil, apperrors.Newf(apperrors.ErrCodeNotFound, "asset not found: %s", ticker)
}

func (s *fakeAssetStore) Create(ctx context.Context, a *asset.Asset) (*asset.Asset, error) {
	a.ID = int64(len(s.assets) + 1)
	s.assets[a.Ticker] = a
	return a, nil
}

type fakeSeriesStore struct {
	ohlcv  []timeseries.OHLCVRecord
	trades []timeseries.TradeRecord
}

func (s *fakeSeriesStore) RangeOHLCV(ctx context.Context, ticker string, intervalMinutes int, start, end time.Time) ([]timeseries.OHLCVRecord, error) {
	return s.ohlcv, nil
}

func (s *fakeSeriesStore) RangeTrades(ctx context.Context, ticker string, start, end time.Time) ([]timeseries.TradeRecord, error) {
	return s.trades, nil
}

type fakeSyncStore struct {
	records []*audit.SyncRecord
}

func (s *fakeSyncStore) Recent(ctx context.Context, limit int) ([]*audit.SyncRecord, error) {
	if limit < len(s.records) {
		return s.records[:limit], nil
	}
	return s.records, nil
}

type stubTransport struct{ name string }

func (t *stubTransport) Name() string { return t.name }
func (t *stubTransport) FetchInfo(ctx context.Context, ticker string) (dto.FundInfo, error) {
	return dto.FundInfo{}, nil
}
func (t *stubTransport) FetchHistory(ctx context.Context, ticker string, start, end time.Time, intervalMinutes int) ([]dto.PerformancePoint, error) {
	return nil, nil
}
func (t *stubTransport) FetchHoldings(ctx context.Context, ticker string) ([]dto.Holding, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *fakeAssetStore, *provider.Client) {
	t.Helper()

	assets := &fakeAssetStore{assets: map[string]*asset.Asset{
		"BTC": {ID: 1, Ticker: "BTC", Name: "Bitcoin", Category: asset.CategoryCrypto, Tier: asset.Tier1, Active: true},
		"DOGE": {ID: 2, Ticker: "DOGE", Name: "Dogecoin", Category: asset.CategoryCrypto, Tier: asset.Tier3, Active: true},
	}}

	series := &fakeSeriesStore{
		ohlcv: []timeseries.OHLCVRecord{{
			Ticker:          "BTC",
			Timestamp:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Close:           decimal.RequireFromString("50500"),
			IntervalMinutes: 1440,
			Source:          "bulk",
		}},
	}

	now := time.Now().UTC()
	syncLog := &fakeSyncStore{records: []*audit.SyncRecord{
		{ID: "a", SyncType: audit.SyncTypeBulkFile, Ticker: "BTC", StartedAt: now, CompletedAt: &now, Success: true},
	}}

	transport := &stubTransport{name: "fundhub"}
	limiter := provider.NewRateLimiter("fundhub", 10, time.Hour, false)
	health := provider.NewHealthMonitor("fundhub", provider.StatusActive, 100, 5, 0.2)
	state := &provider.State{Name: "fundhub", Status: provider.StatusActive}
	client := provider.NewClient(transport, limiter, health, state, provider.ClientOptions{})

	cfg := &config.Config{}
	server := NewServer(cfg, Deps{
		Assets:    assets,
		Series:    series,
		SyncLog:   syncLog,
		Providers: []*provider.Client{client},
	})
	return server, assets, client
}

func do(t *testing.T, server *Server, method, path, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestListAssets(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec, resp := do(t, server, http.MethodGet, "/api/v1/assets", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Len(t, resp.Data, 2)

	rec, resp = do(t, server, http.MethodGet, "/api/v1/assets?tier=TIER1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 1)

	rec, _ = do(t, server, http.MethodGet, "/api/v1/assets?tier=TIER9", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAsset(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec, resp := do(t, server, http.MethodGet, "/api/v1/assets/BTC", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, resp = do(t, server, http.MethodGet, "/api/v1/assets/NOPE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
}

func TestCreateAsset(t *testing.T) {
	server, assets, _ := newTestServer(t)

	rec, resp := do(t, server, http.MethodPost, "/api/v1/assets",
		`{"ticker":"ETH","name":"Ethereum","category":"crypto"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)

	created, ok := assets.assets["ETH"]
	require.True(t, ok)
	assert.Equal(t, asset.Tier1, created.Tier, "tier comes from the static lists, not the caller")

	// Missing required fields are rejected before the store is touched.
	rec, _ = do(t, server, http.MethodPost, "/api/v1/assets", `{"ticker":"SOL"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOHLCVRange(t *testing.T) {
	server, _, _ := newTestServer(t)

	path := "/api/v1/assets/BTC/ohlcv?interval=1440&start=2024-03-01&end=2024-03-08"
	rec, resp := do(t, server, http.MethodGet, path, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Len(t, resp.Data, 1)

	rec, _ = do(t, server, http.MethodGet, "/api/v1/assets/BTC/ohlcv?interval=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, server, http.MethodGet, "/api/v1/assets/BTC/ohlcv?start=2024-03-08&end=2024-03-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTradeRange(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec, resp := do(t, server, http.MethodGet, "/api/v1/assets/BTC/trades", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestProviderStatusAndReactivate(t *testing.T) {
	server, _, client := newTestServer(t)

	// Trip the breaker.
	for i := 0; i < 5; i++ {
		client.Health().RecordFailure()
	}
	require.Equal(t, provider.StatusError, client.Health().Status())

	rec, resp := do(t, server, http.MethodGet, "/api/v1/providers/fundhub", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var status ProviderStatus
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, "ERROR", status.Status)
	assert.Equal(t, 5, status.ConsecutiveFailures)

	rec, _ = do(t, server, http.MethodPost, "/api/v1/providers/fundhub/reactivate", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, provider.StatusActive, client.Health().Status())

	rec, _ = do(t, server, http.MethodPost, "/api/v1/providers/nope/reactivate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncRecords(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec, resp := do(t, server, http.MethodGet, "/api/v1/sync-records", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Len(t, resp.Data, 1)

	rec, _ = do(t, server, http.MethodGet, "/api/v1/sync-records?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
