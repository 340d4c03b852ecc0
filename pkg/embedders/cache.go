package embedders

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/answerdesk/answerdesk/pkg/llms"
)

// CachedEmbedder wraps an Embedder with a bounded in-process cache.
// Entries are keyed by normalized text plus model id, evicted LRU, and
// expire after a TTL. Concurrent misses for the same key are collapsed
// into a single upstream call. Cache hits report zero token usage.
type CachedEmbedder struct {
	inner   Embedder
	maxSize int
	ttl     time.Duration

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List

	group singleflight.Group

	hits   int64
	misses int64
}

type cacheEntry struct {
	key     string
	vector  []float32
	expires time.Time
}

// NewCachedEmbedder wraps inner with a cache of maxSize entries and the
// given TTL.
func NewCachedEmbedder(inner Embedder, maxSize int, ttl time.Duration) *CachedEmbedder {
	if maxSize <= 0 {
		maxSize = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedEmbedder{
		inner:   inner,
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// ModelID implements Embedder.
func (c *CachedEmbedder) ModelID() string {
	return c.inner.ModelID()
}

// Dimension implements Embedder.
func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

// Embed implements Embedder. Returns the cached vector when present,
// with zero usage since no provider call happened.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, llms.Usage, error) {
	vec, usage, _, err := c.EmbedWithHit(ctx, text)
	return vec, usage, err
}

// EmbedWithHit is Embed plus a cache-hit indicator for metrics.
func (c *CachedEmbedder) EmbedWithHit(ctx context.Context, text string) ([]float32, llms.Usage, bool, error) {
	key := c.cacheKey(text)

	if vec, ok := c.lookup(key); ok {
		return vec, llms.Usage{}, true, nil
	}

	// Collapse concurrent misses for the same key.
	type embedResult struct {
		vector []float32
		usage  llms.Usage
	}
	v, err, shared := c.group.Do(key, func() (any, error) {
		vec, usage, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.store(key, vec)
		return embedResult{vector: vec, usage: usage}, nil
	})
	if err != nil {
		return nil, llms.Usage{}, false, err
	}

	res := v.(embedResult)
	if shared {
		// A concurrent caller paid for the tokens.
		return res.vector, llms.Usage{}, true, nil
	}
	return res.vector, res.usage, false, nil
}

// Stats returns cumulative hit and miss counts.
func (c *CachedEmbedder) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *CachedEmbedder) cacheKey(text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	return normalized + "|" + c.inner.ModelID()
}

func (c *CachedEmbedder) lookup(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expires) {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.vector, true
}

func (c *CachedEmbedder) store(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.vector = vector
		entry.expires = time.Now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	for len(c.entries) >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	elem := c.order.PushFront(&cacheEntry{
		key:     key,
		vector:  vector,
		expires: time.Now().Add(c.ttl),
	})
	c.entries[key] = elem
}

// Ensure interface compliance at compile time.
var _ Embedder = (*CachedEmbedder)(nil)
