// Package status memoizes expensive external queries such as process
// liveness checks and installed-version lookups for a short window.
package status

import (
	"sort"
	"sync"
	"time"
)

// Producer computes a fresh value for a cache key.
type Producer func() (any, error)

// Entry is one cached value. It is stale once the clock passes
// FetchedAt + TTL.
type Entry struct {
	Key       string
	Value     any
	FetchedAt time.Time
	TTL       time.Duration
}

type slot struct {
	mu    sync.Mutex
	entry *Entry
}

// Cache is a TTL cache whose failed producer calls are never stored.
// A key's producer runs under that key's lock, so concurrent callers of
// the same key trigger at most one call per window.
type Cache struct {
	mu         sync.Mutex
	slots      map[string]*slot
	now        func() time.Time
	defaultTTL time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, letting tests move time explicitly.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithDefaultTTL sets the TTL used by GetDefault.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.defaultTTL = ttl
	}
}

// DefaultTTL is the window used when none is configured.
const DefaultTTL = 5 * time.Second

// NewCache creates an empty cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		slots:      make(map[string]*slot),
		now:        time.Now,
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live value for key, or runs produce and stores its
// result. A live entry satisfies now-FetchedAt < ttl. When produce fails
// the error is returned and any earlier entry is left as it was; the
// stale value is not served. A ttl <= 0 always runs produce and stores
// nothing.
func (c *Cache) Get(key string, ttl time.Duration, produce Producer) (any, error) {
	if ttl <= 0 {
		return produce()
	}

	s := c.slotFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := c.now()
	if s.entry != nil && now.Sub(s.entry.FetchedAt) < ttl {
		return s.entry.Value, nil
	}

	value, err := produce()
	if err != nil {
		return nil, err
	}

	s.entry = &Entry{Key: key, Value: value, FetchedAt: now, TTL: ttl}
	return value, nil
}

// GetDefault is Get with the cache's default TTL.
func (c *Cache) GetDefault(key string, produce Producer) (any, error) {
	return c.Get(key, c.defaultTTL, produce)
}

// Peek returns the stored entry for key without consulting the clock.
func (c *Cache) Peek(key string) (Entry, bool) {
	c.mu.Lock()
	s, ok := c.slots[key]
	c.mu.Unlock()
	if !ok {
		return Entry{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil {
		return Entry{}, false
	}
	return *s.entry, true
}

// Invalidate removes key unconditionally. Call it after any operation that
// can change the queried fact.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, key)
}

// InvalidateAll removes every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = make(map[string]*slot)
}

// Len returns the number of keys holding a value.
func (c *Cache) Len() int {
	return len(c.Keys())
}

// Keys returns the sorted keys that currently hold a value.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	slots := make(map[string]*slot, len(c.slots))
	for k, s := range c.slots {
		slots[k] = s
	}
	c.mu.Unlock()

	keys := make([]string, 0, len(slots))
	for k, s := range slots {
		s.mu.Lock()
		if s.entry != nil {
			keys = append(keys, k)
		}
		s.mu.Unlock()
	}
	sort.Strings(keys)
	return keys
}

// DefaultTTL returns the TTL used by GetDefault.
func (c *Cache) DefaultTTL() time.Duration {
	return c.defaultTTL
}

func (c *Cache) slotFor(key string) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		s = &slot{}
		c.slots[key] = s
	}
	return s
}

// Fetch is a typed wrapper around Cache.Get.
func Fetch[T any](c *Cache, key string, ttl time.Duration, produce func() (T, error)) (T, error) {
	v, err := c.Get(key, ttl, func() (any, error) {
		return produce()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, _ := v.(T)
	return typed, nil
}
