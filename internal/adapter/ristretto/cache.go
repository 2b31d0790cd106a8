// Package ristretto implements the cache port using dgraph-io/ristretto as an in-process cache.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache wraps a ristretto cache. Admission and eviction are driven by the
// cost function, not by ristretto's internal per-item overhead.
type Cache[V any] struct {
	c    *ristretto.Cache[string, V]
	cost func(V) int64
}

// New creates a ristretto-backed cache bounded by maxCost. cost reports the
// weight of one value; nil counts every value as 1.
func New[V any](maxCost int64, cost func(V) int64) (*Cache[V], error) {
	if cost == nil {
		cost = func(V) int64 { return 1 }
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters:        max(maxCost*10, 1000), // ~10x expected items
		MaxCost:            maxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache[V]{c: c, cost: cost}, nil
}

// Get retrieves a value from the cache.
func (c *Cache[V]) Get(_ context.Context, key string) (V, bool, error) {
	val, found := c.c.Get(key)
	return val, found, nil
}

// Set stores a value in the cache with the given TTL (0 = no expiry). The
// write is visible to Get when Set returns, unless admission rejected it.
func (c *Cache[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, max(c.cost(value), 1), ttl)
	c.c.Wait()
	return nil
}

// Delete removes a value from the cache.
func (c *Cache[V]) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close shuts down the cache and releases resources.
func (c *Cache[V]) Close() {
	c.c.Close()
}
