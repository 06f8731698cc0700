// Command sync runs a one-shot provider operation: history sync for one
// ticker or for every active asset, or an info/holdings fetch printed to
// stdout. Every fetch goes through the adapter call path, so provider
// budgets and health gating apply.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fundsync/internal/asset"
	"fundsync/internal/audit"
	"fundsync/internal/cache"
	"fundsync/internal/config"
	"fundsync/internal/database"
	"fundsync/internal/logger"
	"fundsync/internal/provider"
	"fundsync/internal/provider/fundhub"
	"fundsync/internal/scheduler"
	"fundsync/internal/timeseries"
)

func main() {
	var (
		configPath   = flag.String("config", "configs/config.yaml", "path to configuration file")
		providerName = flag.String("provider", "", "provider to sync from (default: first configured)")
		op           = flag.String("op", "history", "operation: history|info|holdings")
		ticker       = flag.String("ticker", "", "single ticker to sync (default: all active assets)")
		interval     = flag.Int("interval", 1440, "OHLCV interval in minutes")
		lookback     = flag.Int("lookback", 7, "days of history to fetch")
		block        = flag.Bool("block", false, "block for rate-limit capacity instead of failing fast")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	if len(cfg.Providers) == 0 {
		fmt.Fprintln(os.Stderr, "no providers configured")
		os.Exit(1)
	}
	providerCfg := cfg.Providers[0]
	if *providerName != "" {
		found := false
		for _, pc := range cfg.Providers {
			if pc.Name == *providerName {
				providerCfg = pc
				found = true
				break
			}
		}
		if !found {
			fmt.Fprintf(os.Stderr, "provider not configured: %s\n", *providerName)
			os.Exit(1)
		}
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

	providerCache := cache.New(cfg.Redis)
	defer providerCache.Close()

	client, err := buildClient(ctx, cfg, providerCfg, providerCache, db, *block)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build provider client: %v\n", err)
		os.Exit(1)
	}

	switch *op {
	case "history":
	case "info", "holdings":
		if *ticker == "" {
			fmt.Fprintf(os.Stderr, "--op %s requires --ticker\n", *op)
			os.Exit(1)
		}
		if err := fetchAndPrint(ctx, client, *op, *ticker); err != nil {
			fmt.Fprintf(os.Stderr, "%s fetch failed for %s: %v\n", *op, *ticker, err)
			os.Exit(1)
		}
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown --op: %s\n", *op)
		os.Exit(1)
	}

	conn, err := store.AcquireConn(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to acquire write connection: %v\n", err)
		os.Exit(1)
	}
	defer conn.Release()

	repo := asset.NewRepository(db.DB)
	syncer := scheduler.NewSyncer(client, repo, conn, *interval, *lookback)

	if *ticker != "" {
		end := time.Now().UTC()
		start := end.AddDate(0, 0, -*lookback)
		if err := syncer.SyncOne(ctx, *ticker, start, end); err != nil {
			fmt.Fprintf(os.Stderr, "sync failed for %s: %v\n", *ticker, err)
			os.Exit(1)
		}
		fmt.Printf("synced %s from %s\n", *ticker, client.Name())
		return
	}

	synced, err := syncer.SyncAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sync failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("synced %d assets from %s\n", synced, client.Name())
}

func fetchAndPrint(ctx context.Context, client *provider.Client, op, ticker string) error {
	switch op {
	case "info":
		info, err := client.FetchInfo(ctx, ticker)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", info.Ticker, info.Name)
		if info.Currency != nil {
			fmt.Printf("  currency:       %s\n", *info.Currency)
		}
		if info.ExpenseRatio != nil {
			fmt.Printf("  expense ratio:  %s\n", info.ExpenseRatio.String())
		}
		if info.AUM != nil {
			fmt.Printf("  aum:            %s\n", info.AUM.String())
		}
		if info.InceptionDate != nil {
			fmt.Printf("  inception:      %s\n", info.InceptionDate.Format("2006-01-02"))
		}
	case "holdings":
		holdings, err := client.FetchHoldings(ctx, ticker)
		if err != nil {
			return err
		}
		fmt.Printf("%d holdings for %s\n", len(holdings), ticker)
		for _, h := range holdings {
			weight := ""
			if h.Weight != nil {
				weight = h.Weight.String() + "%"
			}
			fmt.Printf("  %-10s %-40s %s\n", h.Ticker, h.Name, weight)
		}
	}
	return nil
}

// buildClient wires one provider transport into the full adapter call path,
// restoring persisted state when the provider has been seen before.
func buildClient(ctx context.Context, cfg *config.Config, pc config.ProviderConfig,
	providerCache cache.Cacher, db *database.DB, block bool) (*provider.Client, error) {

	states := provider.NewStateStore(db.DB)
	state, err := states.Load(ctx, pc.Name)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &provider.State{
			Name:               pc.Name,
			BaseURL:            pc.BaseURL,
			RequiresCredential: pc.RequiresCredential,
			BudgetRequests:     pc.RateLimitRequests,
			BudgetWindow:       pc.RateLimitWindow,
			Status:             provider.StatusActive,
			ReliabilityScore:   100,
		}
	}

	limiter := provider.NewRateLimiter(pc.Name, pc.RateLimitRequests, pc.RateLimitWindow, pc.SlidingWindow)
	if pc.RequestsPerSecond > 0 {
		limiter = limiter.WithPacing(pc.RequestsPerSecond)
	}

	health := provider.NewHealthMonitor(pc.Name, state.Status, state.ReliabilityScore,
		cfg.Health.FailureThreshold, cfg.Health.SmoothingAlpha)

	return provider.NewClient(fundhub.NewClient(pc), limiter, health, state, provider.ClientOptions{
		Cache:        providerCache,
		CacheTTL:     cfg.Redis.TTL,
		BlockOnLimit: block,
		SyncLog:      audit.NewRepository(db.DB),
		States:       states,
	}), nil
}
