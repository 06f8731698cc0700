package cache

import (
	"context"
	"errors"
	"time"

	"fundsync/internal/config"
	"fundsync/internal/logger"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cacher is the read-through cache used in front of provider calls. Values
// are stored as serialized bytes; callers own the encoding.
type Cacher interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// New builds a cache from configuration: Redis when enabled, otherwise an
// in-process memory cache. A Redis connection failure falls back to memory
// so an unreachable cache never blocks ingestion.
func New(cfg config.RedisConfig) Cacher {
	if !cfg.Enabled {
		return NewMemoryCache(0)
	}
	c, err := NewRedisCache(cfg)
	if err != nil {
		logger.Warnf("redis unavailable, using memory cache: %v", err)
		return NewMemoryCache(0)
	}
	return c
}
