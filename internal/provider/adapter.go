package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"fundsync/internal/audit"
	"fundsync/internal/cache"
	"fundsync/internal/dto"
	apperrors "fundsync/internal/errors"
	"fundsync/internal/logger"
	"fundsync/internal/metrics"
)

// Adapter is the uniform contract every external data provider is wrapped
// in. Collaborators must never reach a provider transport without going
// through an Adapter.
type Adapter interface {
	Name() string
	FetchInfo(ctx context.Context, ticker string) (dto.FundInfo, error)
	FetchHistory(ctx context.Context, ticker string, start, end time.Time, intervalMinutes int) ([]dto.PerformancePoint, error)
	FetchHoldings(ctx context.Context, ticker string) ([]dto.Holding, error)
}

// Transport is the raw provider call surface a concrete client implements.
// Transports decode and validate payloads; the Client layers the cache, the
// rate limiter, the health gate and audit bookkeeping on top.
type Transport interface {
	Name() string
	FetchInfo(ctx context.Context, ticker string) (dto.FundInfo, error)
	FetchHistory(ctx context.Context, ticker string, start, end time.Time, intervalMinutes int) ([]dto.PerformancePoint, error)
	FetchHoldings(ctx context.Context, ticker string) ([]dto.Holding, error)
}

// ClientOptions configures the adapter call path.
type ClientOptions struct {
	Cache    cache.Cacher
	CacheTTL time.Duration
	// BlockOnLimit selects the caller's rate-limit behavior: block up to
	// MaxWait for capacity instead of failing fast with RateLimitError.
	BlockOnLimit bool
	MaxWait      time.Duration
	SyncLog      *audit.Repository
	States       *StateStore
}

// Client composes a transport with the rate limiter, health monitor,
// read-through cache and sync audit log. One Client may be shared by the
// API server and the scheduler, so state access is mutex-guarded.
type Client struct {
	name      string
	transport Transport
	limiter   *RateLimiter
	health    *HealthMonitor
	opts      ClientOptions

	stateMu sync.Mutex
	state   *State
}

// NewClient wires a transport into the full adapter call path.
func NewClient(transport Transport, limiter *RateLimiter, health *HealthMonitor, state *State, opts ClientOptions) *Client {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 15 * time.Minute
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 30 * time.Second
	}
	return &Client{
		name:      transport.Name(),
		transport: transport,
		limiter:   limiter,
		health:    health,
		state:     state,
		opts:      opts,
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Health exposes the monitor for manual status transitions.
func (c *Client) Health() *HealthMonitor { return c.health }

// State returns a copy of the current provider state.
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return *c.state
}

// updateState applies a mutation under the state lock.
func (c *Client) updateState(mutate func(s *State)) {
	c.stateMu.Lock()
	mutate(c.state)
	c.stateMu.Unlock()
}

// FetchInfo retrieves instrument metadata.
func (c *Client) FetchInfo(ctx context.Context, ticker string) (dto.FundInfo, error) {
	var out dto.FundInfo
	err := c.call(ctx, audit.SyncTypeInfo, "info", ticker,
		map[string]string{"ticker": ticker}, &out,
		func(ctx context.Context) (interface{}, int64, error) {
			info, err := c.transport.FetchInfo(ctx, ticker)
			return info, 1, err
		})
	return out, err
}

// FetchHistory retrieves historical performance points for a range.
func (c *Client) FetchHistory(ctx context.Context, ticker string, start, end time.Time, intervalMinutes int) ([]dto.PerformancePoint, error) {
	var out []dto.PerformancePoint
	params := map[string]string{
		"ticker":   ticker,
		"start":    start.UTC().Format(time.RFC3339),
		"end":      end.UTC().Format(time.RFC3339),
		"interval": strconv.Itoa(intervalMinutes),
	}
	err := c.call(ctx, audit.SyncTypeHistory, "history", ticker, params, &out,
		func(ctx context.Context) (interface{}, int64, error) {
			points, err := c.transport.FetchHistory(ctx, ticker, start, end, intervalMinutes)
			return points, int64(len(points)), err
		})
	return out, err
}

// FetchHoldings retrieves a fund's portfolio constituents.
func (c *Client) FetchHoldings(ctx context.Context, ticker string) ([]dto.Holding, error) {
	var out []dto.Holding
	err := c.call(ctx, audit.SyncTypeHoldings, "holdings", ticker,
		map[string]string{"ticker": ticker}, &out,
		func(ctx context.Context) (interface{}, int64, error) {
			holdings, err := c.transport.FetchHoldings(ctx, ticker)
			return holdings, int64(len(holdings)), err
		})
	return out, err
}

// call runs one adapter operation: cache, health gate, rate limiter,
// transport, then bookkeeping. The outcome is always reported to the health
// monitor and recorded on a sync record; the call itself is never retried.
func (c *Client) call(ctx context.Context, syncType audit.SyncType, operation, ticker string,
	params map[string]string, out interface{},
	fetch func(ctx context.Context) (interface{}, int64, error)) error {

	key := c.cacheKey(operation, params)

	// Cache hits bypass the rate limiter entirely.
	if c.opts.Cache != nil {
		if data, err := c.opts.Cache.Get(ctx, key); err == nil {
			metrics.ProviderCacheHits.WithLabelValues(c.name, operation).Inc()
			return json.Unmarshal(data, out)
		}
	}

	// A RATE_LIMITED provider self-clears once budget capacity returns.
	if c.health.Status() == StatusRateLimited && c.limiter.HasCapacity() {
		c.health.ClearRateLimited()
	}

	// Gate before any network I/O.
	if !c.health.CanProceed() {
		return apperrors.Newf(apperrors.ErrCodeProviderGated,
			"provider %s is %s", c.name, c.health.Status()).
			WithContext("provider", c.name).
			WithContext("status", string(c.health.Status()))
	}

	if c.opts.BlockOnLimit {
		if err := c.limiter.AcquireBlocking(ctx, c.opts.MaxWait); err != nil {
			c.markRateLimited(ctx)
			return err
		}
	} else if !c.limiter.TryAcquire() {
		c.markRateLimited(ctx)
		return apperrors.NewRateLimitError(c.name, c.limiter.RetryAfter())
	}

	record := c.beginSync(ctx, syncType, ticker, params)

	now := time.Now().UTC()
	c.updateState(func(s *State) {
		s.WindowRequests++
		s.LastRequestAt = &now
	})

	result, fetched, err := fetch(ctx)
	if err != nil {
		c.health.RecordFailure()
		c.updateState(func(s *State) {
			s.LastError = err.Error()
			s.LastErrorAt = &now
			s.Status = c.health.Status()
			s.ConsecutiveFailures = c.health.ConsecutiveFailures()
			s.ReliabilityScore = c.health.ReliabilityScore()
		})
		c.persistState(ctx)
		c.finalizeSync(ctx, record, audit.Outcome{ErrorMessage: err.Error()})
		metrics.ProviderRequests.WithLabelValues(c.name, operation, outcomeLabel(err)).Inc()
		return err
	}

	c.health.RecordSuccess()
	c.updateState(func(s *State) {
		s.LastSyncAt = &now
		s.Status = c.health.Status()
		s.ConsecutiveFailures = 0
		s.ReliabilityScore = c.health.ReliabilityScore()
	})
	c.persistState(ctx)

	data, err := json.Marshal(result)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to encode provider response")
	}
	if c.opts.Cache != nil {
		if err := c.opts.Cache.Set(ctx, key, data, c.opts.CacheTTL); err != nil {
			logger.Warnf("provider %s: cache set failed: %v", c.name, err)
		}
	}

	c.finalizeSync(ctx, record, audit.Outcome{Success: true, RecordsFetched: fetched})
	metrics.ProviderRequests.WithLabelValues(c.name, operation, "success").Inc()

	return json.Unmarshal(data, out)
}

func (c *Client) cacheKey(operation string, params map[string]string) string {
	key := fmt.Sprintf("provider:%s:%s", c.name, operation)
	for _, f := range []string{"ticker", "start", "end", "interval"} {
		if v, ok := params[f]; ok {
			key += ":" + v
		}
	}
	return key
}

func (c *Client) beginSync(ctx context.Context, syncType audit.SyncType, ticker string, params map[string]string) *audit.SyncRecord {
	if c.opts.SyncLog == nil {
		return nil
	}
	record, err := c.opts.SyncLog.Begin(ctx, syncType, ticker, params)
	if err != nil {
		logger.Warnf("provider %s: failed to begin sync record: %v", c.name, err)
		return nil
	}
	return record
}

func (c *Client) finalizeSync(ctx context.Context, record *audit.SyncRecord, outcome audit.Outcome) {
	if record == nil || c.opts.SyncLog == nil {
		return
	}
	if err := c.opts.SyncLog.Finalize(ctx, record, outcome); err != nil {
		logger.Warnf("provider %s: failed to finalize sync record: %v", c.name, err)
	}
}

// markRateLimited records a budget denial on the monitor and keeps the
// persisted status in step with it.
func (c *Client) markRateLimited(ctx context.Context) {
	c.health.MarkRateLimited()
	c.updateState(func(s *State) {
		s.Status = c.health.Status()
	})
	c.persistState(ctx)
}

func (c *Client) persistState(ctx context.Context) {
	if c.opts.States == nil {
		return
	}
	snapshot := c.State()
	if err := c.opts.States.Save(ctx, &snapshot); err != nil {
		logger.Warnf("provider %s: failed to persist state: %v", c.name, err)
	}
}

func outcomeLabel(err error) string {
	switch {
	case apperrors.IsDataNotFound(err):
		return "not_found"
	case apperrors.IsRateLimit(err):
		return "rate_limited"
	case apperrors.IsInvalidData(err):
		return "invalid_data"
	default:
		return "error"
	}
}
