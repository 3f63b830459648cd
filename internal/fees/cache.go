package fees

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL matches how long the provider's fee schedule is trusted.
const DefaultCacheTTL = 24 * time.Hour

type Cache interface {
	Get(ctx context.Context, key string) (*Options, bool)
	Set(ctx context.Context, key string, value *Options)
}

type memoryEntry struct {
	value     *Options
	expiresAt time.Time
}

// MemoryCache is a process-local Cache. Expired entries are dropped lazily
// on read and by Sweep.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache uses time.Now when now is nil and DefaultCacheTTL when ttl
// is not positive.
func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{entries: make(map[string]memoryEntry), ttl: ttl, now: now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Options, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.value.clone(), true
}

// sweepThreshold bounds how large the map grows before Set sweeps it.
const sweepThreshold = 1024

func (c *MemoryCache) Set(_ context.Context, key string, value *Options) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= sweepThreshold {
		c.sweepLocked(now)
	}
	c.entries[key] = memoryEntry{value: value.clone(), expiresAt: now.Add(c.ttl)}
}

// Sweep removes expired entries and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(now)
}

func (c *MemoryCache) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
