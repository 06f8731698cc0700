// Command ingest streams flat historical export files into the time-series
// store. One file at a time, one flush at a time; every write is idempotent,
// so an interrupted run is always safe to re-execute in full.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"fundsync/internal/asset"
	"fundsync/internal/audit"
	"fundsync/internal/config"
	"fundsync/internal/database"
	"fundsync/internal/ingest"
	"fundsync/internal/logger"
	"fundsync/internal/timeseries"
)

func main() {
	var (
		configPath  = flag.String("config", "configs/config.yaml", "path to configuration file")
		dataDir     = flag.String("data-dir", "", "directory of export files (overrides config)")
		tier        = flag.String("tier", "ALL", "instrument tier filter: TIER1|TIER2|TIER3|TIER4|ALL")
		fileType    = flag.String("file-type", "both", "record shape filter: ohlcv|trade|both")
		intervals   = flag.String("intervals", "", "comma-separated OHLCV interval minutes (empty = all)")
		source      = flag.String("source", "bulk", "source label written on every record")
		yes         = flag.Bool("yes", false, "skip the confirmation prompt")
		stopOnError = flag.Bool("stop-on-error", false, "abort the run on the first failed file")
		ohlcvBatch  = flag.Int("ohlcv-batch", 0, "OHLCV rows per flush (overrides config)")
		tradeBatch  = flag.Int("trade-batch", 0, "trade rows per flush (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	filter, err := buildFilter(*tier, *fileType, *intervals)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	dir := cfg.Ingest.DataDir
	if *dataDir != "" {
		dir = *dataDir
	}
	if dir == "" {
		fmt.Fprintln(os.Stderr, "no data directory: set --data-dir or ingest.data_dir")
		os.Exit(1)
	}

	files, err := ingest.Scan(dir, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Println("no files match the filter; nothing to do")
		return
	}

	fmt.Printf("%d files selected for ingestion from %s\n", len(files), dir)
	if !*yes && !confirm() {
		fmt.Println("aborted")
		return
	}

	db, err := database.NewPostgres(cfg.Postgres)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to postgres: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := timeseries.NewStore(cfg.QuestDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to questdb: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := store.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ensure time-series schema: %v\n", err)
		os.Exit(1)
	}

	// One pinned connection for the whole run.
	conn, err := store.AcquireConn(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to acquire write connection: %v\n", err)
		os.Exit(1)
	}
	defer conn.Release()

	ohlcvBatchSize := cfg.Ingest.OHLCVBatchSize
	if *ohlcvBatch > 0 {
		ohlcvBatchSize = *ohlcvBatch
	}
	tradeBatchSize := cfg.Ingest.TradeBatchSize
	if *tradeBatch > 0 {
		tradeBatchSize = *tradeBatch
	}

	resolver := asset.NewResolver(asset.NewRepository(db.DB))
	pipeline := ingest.New(resolver, conn, ingest.Options{
		Source:         *source,
		CompletedDir:   cfg.Ingest.CompletedDir,
		OHLCVBatchSize: ohlcvBatchSize,
		TradeBatchSize: tradeBatchSize,
		StopOnError:    *stopOnError,
		SyncLog:        audit.NewRepository(db.DB),
	})

	summary, runErr := pipeline.Run(ctx, files)
	fmt.Println(summary.PrintSummary())

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "run aborted: %v\n", runErr)
		os.Exit(1)
	}
}

func buildFilter(tier, fileType, intervals string) (ingest.Filter, error) {
	var filter ingest.Filter

	if !strings.EqualFold(tier, "ALL") {
		parsed, err := asset.ParseTier(tier)
		if err != nil {
			return ingest.Filter{}, fmt.Errorf("invalid --tier: %w", err)
		}
		filter.Tier = parsed
	}

	ft, err := ingest.ParseFileType(fileType)
	if err != nil {
		return ingest.Filter{}, fmt.Errorf("invalid --file-type: %w", err)
	}
	filter.FileType = ft

	iv, err := ingest.ParseIntervals(intervals)
	if err != nil {
		return ingest.Filter{}, fmt.Errorf("invalid --intervals: %w", err)
	}
	filter.Intervals = iv

	return filter, nil
}

func confirm() bool {
	fmt.Print("proceed? [y/N] ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
