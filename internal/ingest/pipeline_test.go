package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundsync/internal/asset"
	apperrors "fundsync/internal/errors"
	"fundsync/internal/timeseries"
)

type fakeRegistry struct {
	calls int
}

func (f *fakeRegistry) GetOrCreate(ctx context.Context, ticker string, category asset.Category) (*asset.Asset, error) {
	f.calls++
	return &asset.Asset{
		ID:       int64(f.calls),
		Ticker:   ticker,
		Name:     ticker,
		Category: category,
		Tier:     asset.ClassifyTier(ticker),
		Active:   true,
	}, nil
}

// fakeWriter keys rows the way the store's dedup keys do, so re-ingesting
// the same rows leaves the totals unchanged.
type fakeWriter struct {
	ohlcv        map[string]timeseries.OHLCVRecord
	trades       map[string]timeseries.TradeRecord
	ohlcvBatches int
	tradeBatches int
	err          error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		ohlcv:  make(map[string]timeseries.OHLCVRecord),
		trades: make(map[string]timeseries.TradeRecord),
	}
}

func (w *fakeWriter) WriteOHLCVBatch(ctx context.Context, records []timeseries.OHLCVRecord) error {
	if w.err != nil {
		return w.err
	}
	w.ohlcvBatches++
	for _, r := range records {
		key := fmt.Sprintf("%s|%d|%s|%d", r.Ticker, r.Timestamp.UnixNano(), r.Source, r.IntervalMinutes)
		w.ohlcv[key] = r
	}
	return nil
}

func (w *fakeWriter) WriteTradeBatch(ctx context.Context, records []timeseries.TradeRecord) error {
	if w.err != nil {
		return w.err
	}
	w.tradeBatches++
	for _, r := range records {
		key := fmt.Sprintf("%s|%d|%s", r.Ticker, r.Timestamp.UnixNano(), r.Source)
		w.trades[key] = r
	}
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const threeCandles = "1614556800,50000,51000,49500,50500,12.5,100\n" +
	"1614643200,50500,52000,50000,51800,8.25,80\n" +
	"1614729600,51800,53000,51500,52900,15.75,120\n"

func newTestPipeline(writer timeseries.Writer, opts Options) (*Pipeline, *fakeRegistry) {
	registry := &fakeRegistry{}
	if opts.Source == "" {
		opts.Source = "bulk"
	}
	return New(asset.NewResolver(registry), writer, opts), registry
}

func TestIngestOHLCVFile(t *testing.T) {
	dir := t.TempDir()
	completed := filepath.Join(dir, "completed")
	path := writeFile(t, dir, "XBTUSD_1440.csv", threeCandles)

	writer := newFakeWriter()
	pipeline, registry := newTestPipeline(writer, Options{CompletedDir: completed})

	files, err := Scan(dir, Filter{})
	require.NoError(t, err)
	require.Len(t, files, 1)

	summary, err := pipeline.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesCompleted)
	assert.Equal(t, int64(3), summary.RecordsWritten)
	assert.Equal(t, 1, registry.calls)
	require.Len(t, writer.ohlcv, 3)

	for _, rec := range writer.ohlcv {
		// XBT resolves to the canonical ticker before anything is written.
		assert.Equal(t, "BTC", rec.Ticker)
		assert.Equal(t, "USD", rec.QuoteCurrency)
		assert.Equal(t, 1440, rec.IntervalMinutes)
		assert.Equal(t, "bulk", rec.Source)
	}

	key := fmt.Sprintf("BTC|%d|bulk|1440", time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	rec, ok := writer.ohlcv[key]
	require.True(t, ok)
	assert.True(t, rec.Open.Equal(decimal.RequireFromString("50000")))
	assert.True(t, rec.Close.Equal(decimal.RequireFromString("50500")))
	assert.True(t, rec.Volume.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, int64(100), rec.TradeCount)

	// The source file moved to the completed directory.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(completed, "XBTUSD_1440.csv"))
	assert.NoError(t, err)
}

func TestReingestIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writer := newFakeWriter()
	pipeline, _ := newTestPipeline(writer, Options{})

	for run := 0; run < 2; run++ {
		// The second run re-ingests the identical rows plus one duplicate
		// timestamp; the dedup key absorbs all of them.
		content := threeCandles
		if run == 1 {
			content += "1614556800,50001,51001,49501,50501,12.5,101\n"
		}
		writeFile(t, dir, "BTCUSD_1440.csv", content)

		files, err := Scan(dir, Filter{})
		require.NoError(t, err)
		_, err = pipeline.Run(context.Background(), files)
		require.NoError(t, err)
	}

	assert.Len(t, writer.ohlcv, 3)
}

func TestIngestTradeFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ETHEUR.csv", "1614556800.123456,1420.55,2.5\n1614556801.5,1421.00,0.75\n")

	writer := newFakeWriter()
	pipeline, _ := newTestPipeline(writer, Options{})

	files, err := Scan(dir, Filter{})
	require.NoError(t, err)
	summary, err := pipeline.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.RecordsWritten)
	require.Len(t, writer.trades, 2)

	key := fmt.Sprintf("ETH|%d|bulk", time.Unix(1614556800, 123456000).UnixNano())
	rec, ok := writer.trades[key]
	require.True(t, ok, "sub-second timestamp precision must survive parsing")
	assert.True(t, rec.Price.Equal(decimal.RequireFromString("1420.55")))
	assert.Equal(t, "EUR", rec.QuoteCurrency)
}

func TestEmptyFileDeleted(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "BTCUSD_1440.csv", "")

	writer := newFakeWriter()
	pipeline, _ := newTestPipeline(writer, Options{})

	files, err := Scan(dir, Filter{})
	require.NoError(t, err)
	summary, err := pipeline.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesDeleted)
	assert.Equal(t, 0, summary.FilesCompleted)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestMalformedFileDeleted(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "BTCUSD_1440.csv",
		"1614556800,50000,51000,49500,50500,12.5,100\n"+
			"not-a-timestamp,50500,52000,50000,51800,8.25,80\n")

	writer := newFakeWriter()
	pipeline, _ := newTestPipeline(writer, Options{})

	files, err := Scan(dir, Filter{})
	require.NoError(t, err)
	summary, err := pipeline.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesDeleted)
	assert.Equal(t, 0, summary.FilesFailed)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestContinueOnErrorAdvances(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ADAUSD_1440.csv", threeCandles)
	writeFile(t, dir, "BTCUSD_1440.csv", threeCandles)

	inner := newFakeWriter()
	writer := &faultOnceWriter{inner: inner, fault: true}
	pipeline, _ := newTestPipeline(writer, Options{})

	files, err := Scan(dir, Filter{})
	require.NoError(t, err)
	require.Len(t, files, 2)

	summary, err := pipeline.Run(context.Background(), files)
	require.NoError(t, err, "continue-on-error completes the run")
	assert.Equal(t, 1, summary.FilesFailed)
	assert.Equal(t, 1, summary.FilesCompleted)
	require.Len(t, summary.Failures, 1)
	assert.Contains(t, summary.Failures[0].File, "ADAUSD_1440.csv")
	assert.Len(t, inner.ohlcv, 3)
}

// faultOnceWriter fails the first batch it sees, then delegates.
type faultOnceWriter struct {
	inner *fakeWriter
	fault bool
}

func (w *faultOnceWriter) WriteOHLCVBatch(ctx context.Context, records []timeseries.OHLCVRecord) error {
	if w.fault {
		w.fault = false
		return apperrors.New(apperrors.ErrCodeDBQuery, "write failed")
	}
	return w.inner.WriteOHLCVBatch(ctx, records)
}

func (w *faultOnceWriter) WriteTradeBatch(ctx context.Context, records []timeseries.TradeRecord) error {
	if w.fault {
		w.fault = false
		return apperrors.New(apperrors.ErrCodeDBQuery, "write failed")
	}
	return w.inner.WriteTradeBatch(ctx, records)
}

func TestStopOnErrorAborts(t *testing.T) {
	dir := t.TempDir()
	pathA := writeFile(t, dir, "ADAUSD_1440.csv", threeCandles)
	pathB := writeFile(t, dir, "BTCUSD_1440.csv", threeCandles)

	writer := newFakeWriter()
	writer.err = apperrors.New(apperrors.ErrCodeDBQuery, "write failed")
	pipeline, _ := newTestPipeline(writer, Options{StopOnError: true})

	files, err := Scan(dir, Filter{})
	require.NoError(t, err)

	summary, err := pipeline.Run(context.Background(), files)
	require.Error(t, err)
	assert.Equal(t, 1, summary.FilesFailed)
	assert.Equal(t, 0, summary.FilesCompleted)

	// Neither file is moved or deleted; the run is safe to re-execute.
	_, err = os.Stat(pathA)
	assert.NoError(t, err)
	_, err = os.Stat(pathB)
	assert.NoError(t, err)
}

func TestBatchFlushThreshold(t *testing.T) {
	dir := t.TempDir()
	var content string
	for i := 0; i < 5; i++ {
		content += fmt.Sprintf("%d,50000,51000,49500,50500,12.5,100\n", 1614556800+i*86400)
	}
	writeFile(t, dir, "BTCUSD_1440.csv", content)

	writer := newFakeWriter()
	pipeline, _ := newTestPipeline(writer, Options{OHLCVBatchSize: 2})

	files, err := Scan(dir, Filter{})
	require.NoError(t, err)
	summary, err := pipeline.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, int64(5), summary.RecordsWritten)
	assert.Equal(t, 3, writer.ohlcvBatches, "5 rows at batch size 2 flush as 2+2+1")
	assert.Len(t, writer.ohlcv, 5)
}

func TestResolverMemoizedAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "BTCUSD_60.csv", threeCandles)
	writeFile(t, dir, "BTCUSD_1440.csv", threeCandles)

	writer := newFakeWriter()
	pipeline, registry := newTestPipeline(writer, Options{})

	files, err := Scan(dir, Filter{})
	require.NoError(t, err)
	require.Len(t, files, 2)

	_, err = pipeline.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 1, registry.calls, "one registry roundtrip per ticker per run")
}
