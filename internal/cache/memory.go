package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process cache with TTL support. It backs single-run
// tools and acts as the fallback when Redis is not configured.
type MemoryCache struct {
	items    map[string]*memoryItem
	mu       sync.RWMutex
	maxSize  int
	stopChan chan struct{}
	stopOnce sync.Once
}

type memoryItem struct {
	value      []byte
	expiration time.Time
}

// NewMemoryCache creates a new memory cache. maxSize <= 0 uses the default.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 10000
	}

	mc := &MemoryCache{
		items:    make(map[string]*memoryItem),
		maxSize:  maxSize,
		stopChan: make(chan struct{}),
	}

	go mc.cleanupLoop()

	return mc
}

// Get retrieves a value, returning ErrMiss for absent or expired keys.
func (mc *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	mc.mu.RLock()
	item, exists := mc.items[key]
	mc.mu.RUnlock()

	if !exists || time.Now().After(item.expiration) {
		return nil, ErrMiss
	}
	return item.value, nil
}

// Set stores a value with a TTL. When the cache is full, the entry closest
// to expiry is evicted.
func (mc *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.items[key]; !exists && len(mc.items) >= mc.maxSize {
		mc.evictSoonestLocked()
	}

	mc.items[key] = &memoryItem{
		value:      value,
		expiration: time.Now().Add(ttl),
	}
	return nil
}

// Delete removes a key.
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.items, key)
	return nil
}

// Close stops the background cleanup loop.
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stopChan) })
	return nil
}

func (mc *MemoryCache) evictSoonestLocked() {
	var victim string
	var soonest time.Time
	for key, item := range mc.items {
		if victim == "" || item.expiration.Before(soonest) {
			victim = key
			soonest = item.expiration
		}
	}
	if victim != "" {
		delete(mc.items, victim)
	}
}

func (mc *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-mc.stopChan:
			return
		case <-ticker.C:
			now := time.Now()
			mc.mu.Lock()
			for key, item := range mc.items {
				if now.After(item.expiration) {
					delete(mc.items, key)
				}
			}
			mc.mu.Unlock()
		}
	}
}
