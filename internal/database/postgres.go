package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"fundsync/internal/config"
	"fundsync/internal/logger"
)

// DB wraps the asset registry connection pool.
type DB struct {
	*sql.DB
	cfg config.PostgresConfig
}

// NewPostgres opens the asset registry database and verifies connectivity.
func NewPostgres(cfg config.PostgresConfig) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 25
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = time.Hour
	}

	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	var pingErr error
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		pingErr = db.PingContext(ctx)
		if pingErr == nil {
			break
		}
		logger.Warnf("database ping attempt %d/%d failed: %v", i+1, maxRetries, pingErr)
		if i < maxRetries-1 {
			time.Sleep(time.Second * time.Duration(i+1))
		}
	}
	if pingErr != nil {
		return nil, fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, pingErr)
	}

	logger.Infof("postgres connection established: host=%s dbname=%s max_open=%d",
		cfg.Host, cfg.DBName, cfg.MaxOpen)

	return &DB{DB: db, cfg: cfg}, nil
}

// HealthCheck performs a connectivity check.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}
