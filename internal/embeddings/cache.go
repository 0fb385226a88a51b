package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedProvider memoizes vectors of another Provider. Re-indexing an
// unchanged section then costs no embedding calls.
type CachedProvider struct {
	Provider
	cache   *lru.Cache[string, []float32]
	model   string
	metrics *Metrics
}

// NewCachedProvider wraps p with an LRU cache of size entries.
func NewCachedProvider(p Provider, size int, model string, metrics *Metrics) (*CachedProvider, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: cache size must be positive", ErrInvalidConfig)
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &CachedProvider{Provider: p, cache: cache, model: model, metrics: metrics}, nil
}

// EmbedDocuments embeds only the texts missing from the cache, each distinct
// text once, and returns vectors in input order.
func (c *CachedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	results := make([][]float32, len(texts))
	missing := make(map[string][]int)
	var order []string
	for i, text := range texts {
		if v, ok := c.cache.Get(cacheKey(text)); ok {
			results[i] = cloneVector(v)
			continue
		}
		if _, seen := missing[text]; !seen {
			order = append(order, text)
		}
		missing[text] = append(missing[text], i)
	}
	c.metrics.RecordCache(ctx, c.model, len(texts)-countIndexes(missing), countIndexes(missing))
	if len(order) == 0 {
		return results, nil
	}

	embedded, err := c.Provider.EmbedDocuments(ctx, order)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(order) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(embedded), len(order))
	}
	for i, text := range order {
		c.cache.Add(cacheKey(text), cloneVector(embedded[i]))
		for _, idx := range missing[text] {
			results[idx] = cloneVector(embedded[i])
		}
	}
	return results, nil
}

// EmbedQuery caches queries apart from passages.
func (c *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := "q:" + cacheKey(text)
	if v, ok := c.cache.Get(key); ok {
		c.metrics.RecordCache(ctx, c.model, 1, 0)
		return cloneVector(v), nil
	}
	c.metrics.RecordCache(ctx, c.model, 0, 1)

	v, err := c.Provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneVector(v))
	return v, nil
}

// Len reports the number of cached vectors.
func (c *CachedProvider) Len() int {
	return c.cache.Len()
}

func countIndexes(m map[string][]int) int {
	n := 0
	for _, idx := range m {
		n += len(idx)
	}
	return n
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	if src == nil {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}
