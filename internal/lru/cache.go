// Package lru provides the sharded LRU cache used for tile metadata and
// decoded overlay rasters.
//
//	c := lru.New[string, *image.RGBA](64, lru.StringHasher)
//	img, err := c.GetOrLoad(ctx, "item/abc/region", load)
//
// Cache is safe for concurrent use and must not be copied after creation.
package lru

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const (
	// ShardCount is the number of shards. Must be a power of 2.
	ShardCount = 8

	// DefaultCapacity is the default maximum number of entries per shard.
	DefaultCapacity = 32

	shardMask = ShardCount - 1
)

// Hasher computes the hash used for shard selection.
type Hasher[K any] func(K) uint64

// StringHasher computes the FNV-1a hash of a string key.
func StringHasher(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s)) // fnv.Write never returns an error
	return h.Sum64()
}

// Stats is a snapshot of cache statistics.
type Stats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a sharded LRU cache with a fixed capacity per shard.
type Cache[K comparable, V any] struct {
	shards   [ShardCount]*shard[K, V]
	hasher   Hasher[K]
	capacity int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type shard[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[K, V]
	recency list[K]
}

type entry[K comparable, V any] struct {
	value V
	node  *node[K]
}

// New creates a cache holding up to capacity entries per shard. If
// capacity <= 0, DefaultCapacity is used.
func New[K comparable, V any](capacity int, hasher Hasher[K]) *Cache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache[K, V]{hasher: hasher, capacity: capacity}
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{entries: make(map[K]*entry[K, V])}
	}
	return c
}

func (c *Cache[K, V]) shard(key K) *shard[K, V] {
	return c.shards[c.hasher(key)&shardMask]
}

// Get returns the value stored under key and marks it recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	s.recency.moveToFront(e.node)
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry of
// the shard if it is full.
func (c *Cache[K, V]) Set(key K, value V) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	c.setLocked(s, key, value)
}

func (c *Cache[K, V]) setLocked(s *shard[K, V], key K, value V) {
	if e, ok := s.entries[key]; ok {
		e.value = value
		s.recency.moveToFront(e.node)
		return
	}
	for len(s.entries) >= c.capacity {
		oldest, ok := s.recency.removeOldest()
		if !ok {
			break
		}
		delete(s.entries, oldest)
		c.evictions.Add(1)
	}
	s.entries[key] = &entry[K, V]{value: value, node: s.recency.pushFront(key)}
}

// GetOrLoad returns the cached value for key, or calls load and caches
// its result. load runs without the shard lock held, so concurrent misses
// on the same key may each call it; the last result wins. Errors are not
// cached.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

// Delete removes key. It reports whether the key was present.
func (c *Cache[K, V]) Delete(key K) bool {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.recency.remove(e.node)
	delete(s.entries, key)
	return true
}

// Clear removes every entry. Statistics are kept.
func (c *Cache[K, V]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[K]*entry[K, V])
		s.recency.clear()
		s.mu.Unlock()
	}
}

// Len returns the number of entries across all shards.
func (c *Cache[K, V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Stats returns a snapshot of the cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Len:       c.Len(),
		Capacity:  c.capacity * ShardCount,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
