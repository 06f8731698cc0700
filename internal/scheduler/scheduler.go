// Package scheduler runs periodic provider history syncs. Every sync goes
// through the adapter call path, so the rate limiter and health gate apply to
// scheduled work exactly as they do to manual fetches.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"fundsync/internal/asset"
	"fundsync/internal/dto"
	apperrors "fundsync/internal/errors"
	"fundsync/internal/logger"
	"fundsync/internal/provider"
	"fundsync/internal/timeseries"
)

// AssetLister is the slice of the registry the syncer reads.
type AssetLister interface {
	List(ctx context.Context, f asset.Filter) ([]*asset.Asset, error)
}

// Syncer pulls recent history for every active asset from one provider and
// writes it to the time-series store.
type Syncer struct {
	adapter         provider.Adapter
	assets          AssetLister
	writer          timeseries.Writer
	intervalMinutes int
	lookbackDays    int
}

// NewSyncer creates a syncer over one provider adapter.
func NewSyncer(adapter provider.Adapter, assets AssetLister, writer timeseries.Writer, intervalMinutes, lookbackDays int) *Syncer {
	if intervalMinutes <= 0 {
		intervalMinutes = 1440
	}
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	return &Syncer{
		adapter:         adapter,
		assets:          assets,
		writer:          writer,
		intervalMinutes: intervalMinutes,
		lookbackDays:    lookbackDays,
	}
}

// SyncAll fetches history for every active asset. Per-asset failures are
// logged and skipped; a gated or rate-limited provider fails the asset, not
// the run, and the health machinery decides what happens next.
func (s *Syncer) SyncAll(ctx context.Context) (int, error) {
	active := true
	assets, err := s.assets.List(ctx, asset.Filter{Active: &active})
	if err != nil {
		return 0, err
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -s.lookbackDays)

	synced := 0
	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if err := s.SyncOne(ctx, a.Ticker, start, end); err != nil {
			logger.Warnf("sync failed for %s: %v", a.Ticker, err)
			continue
		}
		synced++
	}
	return synced, nil
}

// SyncOne fetches one asset's history and writes it as candles.
func (s *Syncer) SyncOne(ctx context.Context, ticker string, start, end time.Time) error {
	points, err := s.adapter.FetchHistory(ctx, ticker, start, end, s.intervalMinutes)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	records := make([]timeseries.OHLCVRecord, 0, len(points))
	for _, p := range points {
		rec, err := candleFromPoint(p, s.intervalMinutes, s.adapter.Name())
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	return s.writer.WriteOHLCVBatch(ctx, records)
}

// candleFromPoint converts a validated performance point into a candle.
// Missing OHLC extremes collapse to the close; missing volume is zero.
func candleFromPoint(p dto.PerformancePoint, intervalMinutes int, source string) (timeseries.OHLCVRecord, error) {
	if p.Close == nil {
		return timeseries.OHLCVRecord{}, apperrors.NewInvalidDataError("PerformancePoint",
			[]string{"close_price is required"})
	}

	rec := timeseries.OHLCVRecord{
		Ticker:          p.Ticker,
		Timestamp:       p.Date.UTC(),
		Open:            *p.Close,
		High:            *p.Close,
		Low:             *p.Close,
		Close:           *p.Close,
		Volume:          decimal.Zero,
		IntervalMinutes: intervalMinutes,
		QuoteCurrency:   "USD",
		Source:          source,
	}
	if p.Open != nil {
		rec.Open = *p.Open
	}
	if p.High != nil {
		rec.High = *p.High
	}
	if p.Low != nil {
		rec.Low = *p.Low
	}
	if p.Volume != nil {
		rec.Volume = *p.Volume
	}
	return rec, nil
}

// Scheduler runs the syncer on a cron spec.
type Scheduler struct {
	cron   *cron.Cron
	syncer *Syncer
}

// New creates a scheduler from a standard 5-field cron spec.
func New(spec string, syncer *Syncer) (*Scheduler, error) {
	c := cron.New()

	s := &Scheduler{cron: c, syncer: syncer}
	if _, err := c.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	start := time.Now()
	synced, err := s.syncer.SyncAll(context.Background())
	if err != nil {
		logger.Errorf("scheduled sync failed: %v", err)
		return
	}
	logger.Infof("scheduled sync completed: %d assets in %s", synced, time.Since(start).Round(time.Second))
}

// Start begins scheduling. Returns immediately.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
