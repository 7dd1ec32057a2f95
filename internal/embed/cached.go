package embed

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultEmbeddingCacheSize holds about 3MB of 768-dim query vectors.
const DefaultEmbeddingCacheSize = 1000

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// cacheKey includes the model so a provider switch never serves vectors
// from another embedding space.
type cacheKey struct {
	model string
	text  string
}

// CachedEmbedder memoizes query vectors in an LRU. Concurrent misses for
// the same text share one provider call, which belongs to no single caller:
// it outlives any caller's cancellation and is bounded by callTimeout.
type CachedEmbedder struct {
	inner       Embedder
	cache       *lru.Cache[cacheKey, []float32]
	flight      singleflight.Group
	callTimeout time.Duration
	hits        atomic.Uint64
	misses      atomic.Uint64
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner; a non-positive size takes the default.
func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[cacheKey, []float32](size)
	return &CachedEmbedder{inner: inner, cache: cache, callTimeout: DefaultTimeout}
}

func (c *CachedEmbedder) key(text string) cacheKey {
	return cacheKey{model: c.inner.ModelName(), text: text}
}

func (c *CachedEmbedder) lookup(k cacheKey) ([]float32, bool) {
	vec, ok := c.cache.Get(k)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return vec, ok
}

// Embed serves text from the cache or embeds it once. Every waiter on a
// shared call, the one that started it included, returns early when its
// own ctx ends; the call itself keeps running for the others.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	k := c.key(text)
	if vec, ok := c.lookup(k); ok {
		return vec, nil
	}

	ch := c.flight.DoChan(k.model+"\x00"+k.text, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
		defer cancel()
		vec, err := c.inner.Embed(callCtx, text)
		if err == nil {
			c.cache.Add(k, vec)
		}
		return vec, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	}
}

// EmbedBatch forwards each distinct uncached text once, in one call, and
// returns vectors in input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	pending := make(map[string][]int)
	var missing []string

	for i, text := range texts {
		if vec, ok := c.lookup(c.key(text)); ok {
			out[i] = vec
			continue
		}
		if _, seen := pending[text]; !seen {
			missing = append(missing, text)
		}
		pending[text] = append(pending[text], i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, text := range missing {
		c.cache.Add(c.key(text), vecs[j])
		for _, i := range pending[text] {
			out[i] = vecs[j]
		}
	}
	return out, nil
}

// Stats returns hit and miss counters and the current size.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: c.cache.Len()}
}

// Purge drops all cached vectors.
func (c *CachedEmbedder) Purge() { c.cache.Purge() }

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() Embedder { return c.inner }

func (c *CachedEmbedder) Dimensions() int                    { return c.inner.Dimensions() }
func (c *CachedEmbedder) ModelName() string                  { return c.inner.ModelName() }
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }
func (c *CachedEmbedder) Close() error                       { return c.inner.Close() }
