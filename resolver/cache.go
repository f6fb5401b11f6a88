package resolver

import (
	"context"
	"sync"
	"time"
)

// Cache stores resolved templates keyed by (code, jurisdiction, language).
// This allows swapping between in-memory, Redis, or other caching implementations.
type Cache interface {
	// Get returns a copy of the cached value, false on miss or expiry
	Get(ctx context.Context, key Key) (*ResolvedTemplate, bool)

	// Set stores a copy of the value
	Set(ctx context.Context, key Key, value *ResolvedTemplate)

	// InvalidateTemplate drops every entry for a template code. Called after
	// a catalog re-import publishes a new version or overlay.
	InvalidateTemplate(ctx context.Context, code string) error
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns the default: no TTL, invalidate on import only
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

type cacheEntry struct {
	value    *ResolvedTemplate
	cachedAt time.Time
}

// InMemoryCache is a process-local Cache. Thread-safe for concurrent access.
type InMemoryCache struct {
	entries map[Key]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemoryCache creates a new in-memory resolver cache
func NewInMemoryCache(config CacheConfig) *InMemoryCache {
	return &InMemoryCache{
		entries: make(map[Key]cacheEntry),
		config:  config,
	}
}

// Get retrieves a cached resolution
// Returns false if absent or expired
func (c *InMemoryCache) Get(ctx context.Context, key Key) (*ResolvedTemplate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
		return nil, false
	}

	// Return copy to prevent external modifications
	return entry.value.Clone(), true
}

// Set stores a resolution
func (c *InMemoryCache) Set(ctx context.Context, key Key, value *ResolvedTemplate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{value: value.Clone(), cachedAt: time.Now()}
}

// InvalidateTemplate clears every entry for code
func (c *InMemoryCache) InvalidateTemplate(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if key.Code == code {
			delete(c.entries, key)
		}
	}
	return nil
}

// Len returns the number of entries, expired ones included
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
