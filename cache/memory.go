// Package cache implements the keyed buffer used by traversal Push/Pop
// slots and by container readers that cache parsed directory structures
// (spec.md §4.L). It has two backends: an in-memory LRU bounded by total
// byte weight, and an append-only per-slot disk spill.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Weigher estimates the byte cost of a cached value, used to bound the
// memory backend by total weight rather than entry count.
type Weigher[V any] func(v V) int

// hugeCapacity bounds the underlying LRU by entry count only as a
// backstop; real eviction is driven by weight, enforced after every Set.
const hugeCapacity = 1 << 30

// MemoryCache is an LRU cache bounded by total byte weight rather than
// entry count, used where many small tiles must share one memory budget.
type MemoryCache[K comparable, V any] struct {
	mu       sync.Mutex
	inner    *lru.Cache[K, V]
	weigher  Weigher[V]
	maxBytes int64
	curBytes int64
}

// NewMemoryCache returns a cache that evicts least-recently-used entries
// once the sum of weigher(value) across all entries exceeds maxBytes.
func NewMemoryCache[K comparable, V any](maxBytes int64, weigher Weigher[V]) *MemoryCache[K, V] {
	inner, _ := lru.New[K, V](hugeCapacity)
	return &MemoryCache[K, V]{inner: inner, weigher: weigher, maxBytes: maxBytes}
}

// Get returns the cached value for key, if present, promoting it to
// most-recently-used.
func (c *MemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Get(key)
}

// Set stores value under key, evicting the least-recently-used entries
// until the cache fits within its byte budget.
func (c *MemoryCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.inner.Peek(key); ok {
		c.curBytes -= int64(c.weigher(old))
	}
	c.inner.Add(key, value)
	c.curBytes += int64(c.weigher(value))
	for c.curBytes > c.maxBytes {
		_, v, ok := c.inner.RemoveOldest()
		if !ok {
			break
		}
		c.curBytes -= int64(c.weigher(v))
	}
}

// Remove evicts key, if present.
func (c *MemoryCache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.inner.Peek(key); ok {
		c.curBytes -= int64(c.weigher(old))
		c.inner.Remove(key)
	}
}

// Len returns the current entry count.
func (c *MemoryCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}

// Bytes returns the current total weight of cached entries.
func (c *MemoryCache[K, V]) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}
