// Command fundsync is the long-running service: the collaborator API plus
// the optional scheduled provider sync.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fundsync/internal/api"
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
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	if err := run(cfg); err != nil {
		logger.Fatalf("service failed: %v", err)
	}
}

func run(cfg *config.Config) error {
	db, err := database.NewPostgres(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := timeseries.NewStore(cfg.QuestDB)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	providerCache := cache.New(cfg.Redis)
	defer providerCache.Close()

	states := provider.NewStateStore(db.DB)
	syncLog := audit.NewRepository(db.DB)

	registry := provider.NewRegistry()
	var clients []*provider.Client
	for _, pc := range cfg.Providers {
		client, err := buildClient(ctx, cfg, pc, providerCache, states, syncLog)
		if err != nil {
			return fmt.Errorf("failed to build provider %s: %w", pc.Name, err)
		}
		if err := registry.Register(client); err != nil {
			return err
		}
		clients = append(clients, client)
	}

	assetRepo := asset.NewRepository(db.DB)

	server := api.NewServer(cfg, api.Deps{
		Assets:    assetRepo,
		Series:    store,
		SyncLog:   syncLog,
		Providers: clients,
		States:    states,
	})

	var sched *scheduler.Scheduler
	var schedConn *timeseries.Conn
	if cfg.Scheduler.Enabled {
		adapter, err := registry.Get(cfg.Scheduler.Provider)
		if err != nil {
			return fmt.Errorf("scheduler provider: %w", err)
		}
		schedConn, err = store.AcquireConn(ctx)
		if err != nil {
			return err
		}
		defer schedConn.Release()

		syncer := scheduler.NewSyncer(adapter, assetRepo, schedConn,
			cfg.Scheduler.Interval, cfg.Scheduler.Lookback)
		sched, err = scheduler.New(cfg.Scheduler.Spec, syncer)
		if err != nil {
			return err
		}
		sched.Start()
		logger.Infof("scheduler started: spec=%q provider=%s", cfg.Scheduler.Spec, cfg.Scheduler.Provider)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return server.Stop(shutdownCtx)
}

// buildClient wires one provider transport into the full adapter call path,
// restoring persisted state when the provider has been seen before.
func buildClient(ctx context.Context, cfg *config.Config, pc config.ProviderConfig,
	providerCache cache.Cacher, states *provider.StateStore, syncLog *audit.Repository) (*provider.Client, error) {

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
		Cache:    providerCache,
		CacheTTL: cfg.Redis.TTL,
		SyncLog:  syncLog,
		States:   states,
	}), nil
}
