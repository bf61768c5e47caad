package embedding

import (
	"container/list"
	"sync"

	"github.com/hyperjump/ruiji/internal/metrics"
)

// EmbeddingCache is a bounded LRU of embeddings keyed by text. Stored vectors are
// copied on the way in, so later changes to the caller's slice do not leak into the cache.
type EmbeddingCache struct {
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	hits    uint64
	misses  uint64
}

type cacheEntry struct {
	text string
	vec  []float32
}

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// NewEmbeddingCache creates a cache holding at most capacity embeddings.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &EmbeddingCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		lru:      list.New(),
	}
}

// Get returns the cached embedding for text and marks it most recently used.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[text]
	if !ok {
		c.misses++
		metrics.EmbeddingCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	c.hits++
	metrics.EmbeddingCacheLookups.WithLabelValues("hit").Inc()
	c.lru.MoveToFront(elem)
	return elem.Value.(*cacheEntry).vec, true
}

// Set stores a copy of vec for text, evicting the least recently used entry when full.
func (c *EmbeddingCache) Set(text string, vec []float32) {
	stored := append([]float32(nil), vec...)
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[text]; ok {
		elem.Value.(*cacheEntry).vec = stored
		c.lru.MoveToFront(elem)
		return
	}
	c.entries[text] = c.lru.PushFront(&cacheEntry{text: text, vec: stored})
	for c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).text)
	}
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns entry and lookup counts.
func (c *EmbeddingCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: c.lru.Len(), Hits: c.hits, Misses: c.misses}
}
