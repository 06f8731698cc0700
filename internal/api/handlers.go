package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fundsync/internal/asset"
	"fundsync/internal/audit"
	apperrors "fundsync/internal/errors"
	"fundsync/internal/provider"
	"fundsync/internal/timeseries"
)

// Response is the envelope every endpoint returns.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// AssetStore is the slice of the asset registry the API reads, plus the
// narrow manual-bootstrap create.
type AssetStore interface {
	List(ctx context.Context, f asset.Filter) ([]*asset.Asset, error)
	GetByTicker(ctx context.Context, ticker string) (*asset.Asset, error)
	Create(ctx context.Context, a *asset.Asset) (*asset.Asset, error)
}

// SeriesStore is the read-only time-series query surface.
type SeriesStore interface {
	RangeOHLCV(ctx context.Context, ticker string, intervalMinutes int, start, end time.Time) ([]timeseries.OHLCVRecord, error)
	RangeTrades(ctx context.Context, ticker string, start, end time.Time) ([]timeseries.TradeRecord, error)
}

// SyncStore is the read-only sync audit log surface.
type SyncStore interface {
	Recent(ctx context.Context, limit int) ([]*audit.SyncRecord, error)
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.IsCode(err, apperrors.ErrCodeNotFound):
		status = http.StatusNotFound
	case apperrors.IsCode(err, apperrors.ErrCodeInvalidInput):
		status = http.StatusBadRequest
	case apperrors.IsCode(err, apperrors.ErrCodeConflict):
		status = http.StatusConflict
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// AssetHandler serves asset registry queries.
type AssetHandler struct {
	assets AssetStore
}

// NewAssetHandler creates an asset handler.
func NewAssetHandler(assets AssetStore) *AssetHandler {
	return &AssetHandler{assets: assets}
}

// List returns assets matching optional category/tier/active filters.
func (h *AssetHandler) List(c *gin.Context) {
	var filter asset.Filter

	if category := c.Query("category"); category != "" {
		filter.Category = asset.Category(category)
	}
	if tier := c.Query("tier"); tier != "" {
		parsed, err := asset.ParseTier(tier)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
			return
		}
		filter.Tier = parsed
	}
	if active := c.Query("active"); active != "" {
		v, err := strconv.ParseBool(active)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "active must be a boolean"})
			return
		}
		filter.Active = &v
	}

	assets, err := h.assets.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: assets})
}

// Get returns one asset by ticker.
func (h *AssetHandler) Get(c *gin.Context) {
	a, err := h.assets.GetByTicker(c.Request.Context(), c.Param("ticker"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: a})
}

// Create bootstraps one asset manually: ticker, name and category only. The
// tier is classified from the static lists, never supplied by the caller.
func (h *AssetHandler) Create(c *gin.Context) {
	var req struct {
		Ticker   string `json:"ticker" binding:"required"`
		Name     string `json:"name" binding:"required"`
		Category string `json:"category" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	created, err := h.assets.Create(c.Request.Context(), &asset.Asset{
		Ticker:   req.Ticker,
		Name:     req.Name,
		Category: asset.Category(req.Category),
		Tier:     asset.ClassifyTier(req.Ticker),
		Active:   true,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: created})
}

// SeriesHandler serves time-series range queries.
type SeriesHandler struct {
	series SeriesStore
}

// NewSeriesHandler creates a series handler.
func NewSeriesHandler(series SeriesStore) *SeriesHandler {
	return &SeriesHandler{series: series}
}

// OHLCVRange returns candles for one ticker, interval and time range.
func (h *SeriesHandler) OHLCVRange(c *gin.Context) {
	interval, err := strconv.Atoi(c.DefaultQuery("interval", "1440"))
	if err != nil || interval <= 0 {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "interval must be a positive integer"})
		return
	}

	start, end, err := parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	records, err := h.series.RangeOHLCV(c.Request.Context(), c.Param("ticker"), interval, start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// TradeRange returns ticks for one ticker and time range.
func (h *SeriesHandler) TradeRange(c *gin.Context) {
	start, end, err := parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	records, err := h.series.RangeTrades(c.Request.Context(), c.Param("ticker"), start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// parseRange reads start/end query parameters, accepting RFC3339 or bare
// dates. The default range is the trailing 30 days.
func parseRange(c *gin.Context) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)

	var err error
	if s := c.Query("start"); s != "" {
		if start, err = parseTime(s); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if e := c.Query("end"); e != "" {
		if end, err = parseTime(e); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, apperrors.New(apperrors.ErrCodeInvalidInput, "start must precede end")
	}
	return start, end, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, apperrors.Newf(apperrors.ErrCodeInvalidInput, "invalid time: %q", s)
	}
	return t.UTC(), nil
}

// ProviderStatus is the external view of one provider's health.
type ProviderStatus struct {
	Name                string  `json:"name"`
	Status              string  `json:"status"`
	ReliabilityScore    float64 `json:"reliability_score"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	WindowRequests      int     `json:"window_requests"`
	LastError           string  `json:"last_error,omitempty"`
}

// ProviderHandler serves provider status and the manual status transitions.
type ProviderHandler struct {
	clients map[string]*provider.Client
	names   []string
	states  *provider.StateStore
}

// NewProviderHandler creates a provider handler over the startup-registered
// clients.
func NewProviderHandler(clients []*provider.Client, states *provider.StateStore) *ProviderHandler {
	h := &ProviderHandler{
		clients: make(map[string]*provider.Client, len(clients)),
		states:  states,
	}
	for _, client := range clients {
		h.clients[client.Name()] = client
		h.names = append(h.names, client.Name())
	}
	return h
}

func (h *ProviderHandler) status(client *provider.Client) ProviderStatus {
	state := client.State()
	return ProviderStatus{
		Name:                client.Name(),
		Status:              string(client.Health().Status()),
		ReliabilityScore:    client.Health().ReliabilityScore(),
		ConsecutiveFailures: client.Health().ConsecutiveFailures(),
		WindowRequests:      state.WindowRequests,
		LastError:           state.LastError,
	}
}

// List returns the status of every registered provider.
func (h *ProviderHandler) List(c *gin.Context) {
	statuses := make([]ProviderStatus, 0, len(h.names))
	for _, name := range h.names {
		statuses = append(statuses, h.status(h.clients[name]))
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: statuses})
}

// Get returns one provider's status.
func (h *ProviderHandler) Get(c *gin.Context) {
	client, ok := h.clients[c.Param("name")]
	if !ok {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "provider not found"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: h.status(client)})
}

// Reactivate is the manual ERROR-to-ACTIVE transition. There is no automatic
// recovery path; this endpoint is the only way back.
func (h *ProviderHandler) Reactivate(c *gin.Context) {
	h.transition(c, provider.StatusActive, func(client *provider.Client) {
		client.Health().Reactivate()
	})
}

// SetMaintenance moves a provider into MAINTENANCE.
func (h *ProviderHandler) SetMaintenance(c *gin.Context) {
	h.transition(c, provider.StatusMaintenance, func(client *provider.Client) {
		client.Health().SetMaintenance()
	})
}

func (h *ProviderHandler) transition(c *gin.Context, status provider.Status, apply func(*provider.Client)) {
	client, ok := h.clients[c.Param("name")]
	if !ok {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "provider not found"})
		return
	}

	apply(client)
	if h.states != nil {
		if err := h.states.SetStatus(c.Request.Context(), client.Name(), status); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: h.status(client)})
}

// SyncHandler serves the sync audit log.
type SyncHandler struct {
	syncLog SyncStore
}

// NewSyncHandler creates a sync log handler.
func NewSyncHandler(syncLog SyncStore) *SyncHandler {
	return &SyncHandler{syncLog: syncLog}
}

// Recent returns the latest sync records, newest first.
func (h *SyncHandler) Recent(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "limit must be a positive integer"})
		return
	}

	records, err := h.syncLog.Recent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}
