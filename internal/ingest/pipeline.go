package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"fundsync/internal/asset"
	"fundsync/internal/audit"
	apperrors "fundsync/internal/errors"
	"fundsync/internal/logger"
	"fundsync/internal/metrics"
	"fundsync/internal/timeseries"
)

const (
	// DefaultOHLCVBatchSize is the flush threshold for candle rows.
	DefaultOHLCVBatchSize = 25000
	// DefaultTradeBatchSize is the flush threshold for tick rows.
	DefaultTradeBatchSize = 50000
)

// Options configures one pipeline run.
type Options struct {
	// Source labels every written record (part of the dedup key).
	Source string
	// CompletedDir is where fully-ingested files are moved.
	CompletedDir string
	// OHLCVBatchSize and TradeBatchSize override the flush thresholds.
	OHLCVBatchSize int
	TradeBatchSize int
	// StopOnError aborts the run on the first failed file instead of
	// logging it and advancing.
	StopOnError bool
	// SyncLog, when set, records one sync record per file.
	SyncLog *audit.Repository
}

// Failure records one file the run could not ingest.
type Failure struct {
	File string
	Err  error
}

// Summary is the terminal report of one run.
type Summary struct {
	FilesCompleted int
	FilesDeleted   int
	FilesFailed    int
	RecordsWritten int64
	Failures       []Failure
	Elapsed        time.Duration
}

// Pipeline streams export files into the time-series store, one file at a
// time, one flush at a time. The resolver and the batch buffers are
// process-local state; the pipeline is strictly sequential per invocation.
type Pipeline struct {
	resolver *asset.Resolver
	writer   timeseries.Writer
	opts     Options
}

// New creates a pipeline over a memoizing asset resolver and a batch writer.
// The writer is normally one long-lived pinned connection for the whole run.
func New(resolver *asset.Resolver, writer timeseries.Writer, opts Options) *Pipeline {
	if opts.OHLCVBatchSize <= 0 {
		opts.OHLCVBatchSize = DefaultOHLCVBatchSize
	}
	if opts.TradeBatchSize <= 0 {
		opts.TradeBatchSize = DefaultTradeBatchSize
	}
	return &Pipeline{resolver: resolver, writer: writer, opts: opts}
}

// Run ingests the given files in order. In the default continue-on-error
// mode a failed file is recorded on the summary and the run advances; with
// StopOnError the run aborts immediately, leaving every previously flushed
// batch committed.
func (p *Pipeline) Run(ctx context.Context, files []SourceFile) (*Summary, error) {
	summary := &Summary{}
	start := time.Now()

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			summary.Elapsed = time.Since(start)
			return summary, err
		}

		written, err := p.ingestFile(ctx, file)
		summary.RecordsWritten += written

		switch {
		case err == nil && written == 0:
			// Empty files are deleted rather than retried.
			p.removeFile(file.Path, "empty")
			summary.FilesDeleted++
			metrics.IngestFilesProcessed.WithLabelValues("deleted").Inc()

		case err == nil:
			if mvErr := p.moveCompleted(file.Path); mvErr != nil {
				logger.Warnf("ingested %s but failed to move it: %v", file.Path, mvErr)
			}
			summary.FilesCompleted++
			metrics.IngestFilesProcessed.WithLabelValues("completed").Inc()

		case apperrors.IsCode(err, apperrors.ErrCodeIngestionParse):
			// Structurally invalid files are deleted; already-flushed
			// batches stay committed and are absorbed by dedup on re-run.
			logger.Errorf("malformed file %s: %v", file.Path, err)
			p.removeFile(file.Path, "malformed")
			summary.FilesDeleted++
			metrics.IngestFilesProcessed.WithLabelValues("deleted").Inc()
			if p.opts.StopOnError {
				summary.Elapsed = time.Since(start)
				return summary, err
			}

		default:
			logger.Errorf("failed to ingest %s: %v", file.Path, err)
			summary.FilesFailed++
			summary.Failures = append(summary.Failures, Failure{File: file.Path, Err: err})
			metrics.IngestFilesProcessed.WithLabelValues("failed").Inc()
			if p.opts.StopOnError {
				summary.Elapsed = time.Since(start)
				return summary, err
			}
		}

		p.logProgress(i+1, len(files), file, written, start)
	}

	summary.Elapsed = time.Since(start)
	return summary, nil
}

// ingestFile streams one file into the store and returns the rows written.
func (p *Pipeline) ingestFile(ctx context.Context, file SourceFile) (int64, error) {
	ticker := file.Pair.CanonicalBase()
	quote := file.Pair.CanonicalQuote()

	if _, err := p.resolver.Resolve(ctx, ticker, asset.CategoryCrypto); err != nil {
		return 0, err
	}

	record := p.beginSync(ctx, file, ticker)

	var written int64
	var err error
	switch file.Shape {
	case ShapeOHLCV:
		written, err = p.ingestOHLCV(ctx, file, ticker, quote)
	case ShapeTrade:
		written, err = p.ingestTrades(ctx, file, ticker, quote)
	default:
		err = apperrors.Newf(apperrors.ErrCodeInvalidInput, "unknown file shape: %s", file.Shape)
	}

	outcome := audit.Outcome{Success: err == nil, RecordsFetched: written, RecordsCreated: written}
	if err != nil {
		outcome.ErrorMessage = err.Error()
	}
	p.finalizeSync(ctx, record, outcome)

	return written, err
}

func (p *Pipeline) ingestOHLCV(ctx context.Context, file SourceFile, ticker, quote string) (int64, error) {
	batch := make([]timeseries.OHLCVRecord, 0, p.opts.OHLCVBatchSize)
	var written int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.WriteOHLCVBatch(ctx, batch); err != nil {
			return err
		}
		written += int64(len(batch))
		metrics.IngestRecordsWritten.WithLabelValues(string(ShapeOHLCV)).Add(float64(len(batch)))
		batch = batch[:0]
		return nil
	}

	_, err := streamRows(file.Path, ohlcvFieldCount, func(line int, raw []string) error {
		rec, err := parseOHLCVRow(file.Path, line, raw, ticker, quote, p.opts.Source, file.IntervalMinutes)
		if err != nil {
			return err
		}
		batch = append(batch, rec)
		if len(batch) >= p.opts.OHLCVBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return written, err
	}
	return written, flush()
}

func (p *Pipeline) ingestTrades(ctx context.Context, file SourceFile, ticker, quote string) (int64, error) {
	batch := make([]timeseries.TradeRecord, 0, p.opts.TradeBatchSize)
	var written int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.WriteTradeBatch(ctx, batch); err != nil {
			return err
		}
		written += int64(len(batch))
		metrics.IngestRecordsWritten.WithLabelValues(string(ShapeTrade)).Add(float64(len(batch)))
		batch = batch[:0]
		return nil
	}

	_, err := streamRows(file.Path, tradeFieldCount, func(line int, raw []string) error {
		rec, err := parseTradeRow(file.Path, line, raw, ticker, quote, p.opts.Source)
		if err != nil {
			return err
		}
		batch = append(batch, rec)
		if len(batch) >= p.opts.TradeBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return written, err
	}
	return written, flush()
}

func (p *Pipeline) moveCompleted(path string) error {
	if p.opts.CompletedDir == "" {
		return nil
	}
	if err := os.MkdirAll(p.opts.CompletedDir, 0o755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(p.opts.CompletedDir, filepath.Base(path)))
}

func (p *Pipeline) removeFile(path, reason string) {
	if err := os.Remove(path); err != nil {
		logger.Warnf("failed to delete %s file %s: %v", reason, path, err)
		return
	}
	logger.Infof("deleted %s file %s", reason, path)
}

func (p *Pipeline) logProgress(done, total int, file SourceFile, written int64, start time.Time) {
	elapsed := time.Since(start)
	percent := float64(done) / float64(total) * 100

	var eta time.Duration
	if done > 0 {
		eta = time.Duration(float64(elapsed) / float64(done) * float64(total-done))
	}

	logger.WithFields(map[string]interface{}{
		"file":    filepath.Base(file.Path),
		"pair":    file.Pair.String(),
		"records": written,
		"elapsed": elapsed.Round(time.Second).String(),
		"eta":     eta.Round(time.Second).String(),
	}).Infof("progress %d/%d files (%.1f%%)", done, total, percent)
}

func (p *Pipeline) beginSync(ctx context.Context, file SourceFile, ticker string) *audit.SyncRecord {
	if p.opts.SyncLog == nil {
		return nil
	}
	params := map[string]string{
		"file":  filepath.Base(file.Path),
		"shape": string(file.Shape),
	}
	if file.Shape == ShapeOHLCV {
		params["interval"] = strconv.Itoa(file.IntervalMinutes)
	}
	record, err := p.opts.SyncLog.Begin(ctx, audit.SyncTypeBulkFile, ticker, params)
	if err != nil {
		logger.Warnf("failed to begin sync record for %s: %v", file.Path, err)
		return nil
	}
	return record
}

func (p *Pipeline) finalizeSync(ctx context.Context, record *audit.SyncRecord, outcome audit.Outcome) {
	if record == nil || p.opts.SyncLog == nil {
		return
	}
	if err := p.opts.SyncLog.Finalize(ctx, record, outcome); err != nil {
		logger.Warnf("failed to finalize sync record %s: %v", record.ID, err)
	}
}

// PrintSummary renders the terminal report the ingestion command prints.
func (s *Summary) PrintSummary() string {
	out := fmt.Sprintf("files completed: %d, deleted: %d, failed: %d, records written: %d, elapsed: %s",
		s.FilesCompleted, s.FilesDeleted, s.FilesFailed, s.RecordsWritten, s.Elapsed.Round(time.Second))
	for _, f := range s.Failures {
		out += fmt.Sprintf("\n  failed: %s: %v", f.File, f.Err)
	}
	return out
}
