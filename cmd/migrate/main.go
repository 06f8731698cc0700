// Command migrate manages the asset registry schema in Postgres. The
// time-series store is never touched here; its schema is provisioned by the
// schema command.
package main

import (
	"flag"
	"fmt"
	"os"

	"fundsync/internal/config"
	"fundsync/internal/database"
	"fundsync/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to configuration file")
		down       = flag.Bool("down", false, "roll back all migrations")
		version    = flag.Bool("version", false, "print the current migration version")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	db, err := database.NewPostgres(cfg.Postgres)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to postgres: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, cfg.Postgres.MigrationsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create migrator: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *version:
		v, err := migrator.Version()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read version: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("migration version: %d\n", v)

	case *down:
		if err := migrator.Down(); err != nil {
			fmt.Fprintf(os.Stderr, "rollback failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migrations rolled back")

	default:
		if err := migrator.Up(); err != nil {
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migrations applied")
	}
}
