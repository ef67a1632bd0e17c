package status

import (
	"sync"
	"time"
)

// The process-wide cache. Components receive it by injection; the CLI
// creates it at startup with Init and tears it down with Reset.
var (
	globalMu    sync.Mutex
	globalCache *Cache
)

// Init replaces the process-wide cache with a fresh one using ttl as its
// default window.
func Init(ttl time.Duration, opts ...Option) *Cache {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCache = NewCache(append([]Option{WithDefaultTTL(ttl)}, opts...)...)
	return globalCache
}

// Global returns the process-wide cache, creating it with DefaultTTL on
// first use.
func Global() *Cache {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCache == nil {
		globalCache = NewCache()
	}
	return globalCache
}

// Reset drops the process-wide cache and everything in it.
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCache != nil {
		globalCache.InvalidateAll()
	}
	globalCache = nil
}
