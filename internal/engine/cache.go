package engine

import (
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/lazypower/keepsake/internal/memory"
	"github.com/lazypower/keepsake/internal/metrics"
)

// Cache holds recent retrieval results per owner scope for a short TTL.
// Entries are never invalidated on write; staleness is bounded by the TTL.
// Expiry is checked against the injected clock. Ristretto's own TTL only
// reclaims memory.
type Cache struct {
	store *ristretto.Cache
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	partition Partition
	expires   time.Time
}

// NewCache creates a retrieval cache. A non-positive ttl disables caching.
func NewCache(ttl time.Duration, now func() time.Time) (*Cache, error) {
	if now == nil {
		now = time.Now
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        1e5,
		MaxCost:            1e4, // entries; each costs 1
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{store: c, ttl: ttl, now: now}, nil
}

// cacheKey scopes an entry to the retrieval mode and owner. Similarity
// results depend on the query, so it is part of their key.
func cacheKey(mode RetrievalMode, owner memory.Owner, query string) string {
	key := string(mode) + "\x00" + owner.CacheKey()
	if mode == ModeSimilarity {
		key += "\x00" + query
	}
	return key
}

// Get returns a live entry.
func (c *Cache) Get(key string) (Partition, bool) {
	if c == nil || c.ttl <= 0 {
		return Partition{}, false
	}
	v, ok := c.store.Get(key)
	if ok {
		if e, _ := v.(cacheEntry); c.now().Before(e.expires) {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return e.partition, true
		}
		c.store.Del(key)
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	return Partition{}, false
}

// Set stores p under key. Concurrent writers race; the last one wins.
func (c *Cache) Set(key string, p Partition) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.store.SetWithTTL(key, cacheEntry{partition: p, expires: c.now().Add(c.ttl)}, 1, c.ttl)
	c.store.Wait()
}

// Close releases the cache's background goroutines.
func (c *Cache) Close() {
	if c != nil {
		c.store.Close()
	}
}
