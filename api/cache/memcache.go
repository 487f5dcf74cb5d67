package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

const defaultCleanupInterval = 5 * time.Minute

// In-memory cache with small TTL to minimize Redis calls.
type MemCache struct {
	memoryCache   sync.Map
	cleanupTicker *time.Ticker
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	now           func() time.Time
}

// Simple cache item.
type memCacheItem struct {
	value   any
	expires time.Time
}

// NewMemCache creates a new memory cache with the default sweep interval.
func NewMemCache() *MemCache {
	return NewMemCacheWithInterval(defaultCleanupInterval)
}

// NewMemCacheWithInterval creates a memory cache sweeping expired keys every interval.
func NewMemCacheWithInterval(interval time.Duration) *MemCache {
	ctx, cancel := context.WithCancel(context.Background())
	mc := &MemCache{
		cancel:        cancel,
		cleanupTicker: time.NewTicker(interval),
		ctx:           ctx,
		now:           time.Now,
	}
	mc.startCleanupWorker()

	return mc
}

// startCleanupWorker starts the background worker for memory cleaning.
func (mc *MemCache) startCleanupWorker() {
	mc.wg.Add(1)
	go func() {
		defer mc.wg.Done()
		for {
			select {
			case <-mc.cleanupTicker.C:
				mc.cleanup()
			case <-mc.ctx.Done():
				return
			}
		}
	}()
}

// cleanup go through each key and clean any expired key.
func (mc *MemCache) cleanup() {
	now := mc.now()
	mc.memoryCache.Range(func(key, value any) bool {
		if now.After(value.(*memCacheItem).expires) {
			mc.memoryCache.Delete(key)
		}
		return true
	})
}

// Close shutdown the memory cache worker.
func (mc *MemCache) Close() {
	mc.cancel()
	mc.cleanupTicker.Stop()
	mc.wg.Wait()
}

// Get returns the value of a key, nil when missing or expired.
func (mc *MemCache) Get(key string) any {
	value, exists := mc.memoryCache.Load(key)
	if !exists {
		return nil
	}

	item := value.(*memCacheItem)

	// If the reset time was reached, remove the cache.
	if mc.now().After(item.expires) {
		mc.memoryCache.Delete(key)
		return nil
	}

	return item.value
}

// Set a given key on the cache.
func (mc *MemCache) Set(key string, value any, ttl time.Duration) {
	mc.memoryCache.Store(key, &memCacheItem{
		value:   value,
		expires: mc.now().Add(ttl),
	})
}

// DeletePrefix drops every key starting with prefix.
func (mc *MemCache) DeletePrefix(prefix string) {
	mc.memoryCache.Range(func(key, _ any) bool {
		if strings.HasPrefix(key.(string), prefix) {
			mc.memoryCache.Delete(key)
		}
		return true
	})
}
