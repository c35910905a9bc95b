package embed

import (
	"container/list"
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// CachedEmbedder wraps an Embedder with an LRU cache of single-text
// embeddings. Repeated queries skip the model round trip.
//
// The cache uses:
//   - Hash map for O(1) lookups
//   - Doubly-linked list for LRU ordering
//   - TTL for automatic expiration
//
// Example:
//
//	embedder := embed.NewCachedEmbedder(embed.NewOllama(nil), 1000, 10*time.Minute)
//	vec, _ := embedder.Embed(ctx, "console.log()") // model call
//	vec, _ = embedder.Embed(ctx, "console.log()")  // cache hit
type CachedEmbedder struct {
	inner Embedder

	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	list    *list.List
	items   map[uint64]*list.Element
	now     func() time.Time

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key       uint64
	value     []float32
	expiresAt time.Time
}

// CacheStats holds cache statistics.
type CacheStats struct {
	Size    int     // Current number of entries
	MaxSize int     // Maximum capacity
	Hits    uint64  // Number of cache hits
	Misses  uint64  // Number of cache misses
	HitRate float64 // Hit rate percentage (0-100)
}

// NewCachedEmbedder wraps inner. maxSize <= 0 defaults to 1000; ttl <= 0
// disables expiry.
func NewCachedEmbedder(inner Embedder, maxSize int, ttl time.Duration) *CachedEmbedder {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &CachedEmbedder{
		inner:   inner,
		maxSize: maxSize,
		ttl:     ttl,
		list:    list.New(),
		items:   make(map[uint64]*list.Element, maxSize),
		now:     time.Now,
	}
}

// key hashes model and text with FNV-1a. The separator keeps
// ("ab","c") and ("a","bc") apart.
func (c *CachedEmbedder) key(text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(c.inner.Model()))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return h.Sum64()
}

func (c *CachedEmbedder) get(key uint64) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}
	c.list.MoveToFront(elem)
	atomic.AddUint64(&c.hits, 1)
	return entry.value, true
}

func (c *CachedEmbedder) put(key uint64, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.removeElement(c.list.Back())
	}
	c.items[key] = c.list.PushFront(&cacheEntry{key: key, value: value, expiresAt: expiresAt})
}

func (c *CachedEmbedder) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}

// copyVec keeps callers from mutating cached vectors.
func copyVec(v []float32) []float32 {
	return append([]float32(nil), v...)
}

// Embed returns the cached embedding for text, computing it on a miss.
// Errors are not cached.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if v, ok := c.get(key); ok {
		return copyVec(v), nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(key, copyVec(v))
	return v, nil
}

// EmbedBatch serves cached texts from the cache and sends the rest to the
// wrapped embedder in one batch.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]uint64, len(texts))
	var (
		missing []string
		slots   []int
	)
	for i, t := range texts {
		keys[i] = c.key(t)
		if v, ok := c.get(keys[i]); ok {
			out[i] = copyVec(v)
			continue
		}
		missing = append(missing, t)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrBatchCount, len(vecs), len(missing))
	}
	for j, i := range slots {
		out[i] = vecs[j]
		c.put(keys[i], copyVec(vecs[j]))
	}
	return out, nil
}

// Dimensions returns the wrapped embedder's dimensions.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Model returns the wrapped embedder's model.
func (c *CachedEmbedder) Model() string { return c.inner.Model() }

// Len returns the number of cached entries.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Clear removes all entries. Statistics are kept.
func (c *CachedEmbedder) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.items = make(map[uint64]*list.Element, c.maxSize)
}

// Stats returns cache statistics.
func (c *CachedEmbedder) Stats() CacheStats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return CacheStats{
		Size:    c.Len(),
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}
