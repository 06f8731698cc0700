// Command schema provisions the time-series store. The default is the
// idempotent create-if-not-exists; --drop performs the destructive reset.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"fundsync/internal/config"
	"fundsync/internal/logger"
	"fundsync/internal/timeseries"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to configuration file")
		drop       = flag.Bool("drop", false, "drop and recreate the time-series tables (destructive)")
		yes        = flag.Bool("yes", false, "skip the confirmation prompt for --drop")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	store, err := timeseries.NewStore(cfg.QuestDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to questdb: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	if *drop {
		if !*yes {
			fmt.Fprintln(os.Stderr, "refusing to drop tables without --yes")
			os.Exit(1)
		}
		if err := store.ResetSchema(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "reset failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("time-series schema dropped and recreated")
		return
	}

	if err := store.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ensure failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("time-series schema ensured")
}
