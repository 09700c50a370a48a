package embedding

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"qianfan-chat/internal/domain"
)

// CachedEmbedder wraps a domain.EmbeddingProvider with an LRU cache keyed by
// input text. A batch only sends its cache misses to the inner provider.
type CachedEmbedder struct {
	inner domain.EmbeddingProvider
	cache *lru.Cache[string, []float32]
}

var _ domain.EmbeddingProvider = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with an LRU embedding cache of maxSize entries.
// If maxSize <= 0, the inner provider is returned directly (no caching).
func NewCachedEmbedder(inner domain.EmbeddingProvider, maxSize int) domain.EmbeddingProvider {
	if maxSize <= 0 {
		return inner
	}
	cache, err := lru.New[string, []float32](maxSize)
	if err != nil {
		return inner
	}
	return &CachedEmbedder{inner: inner, cache: cache}
}

// Embed implements domain.EmbeddingProvider. Batch bounds are checked before
// the cache is consulted so an invalid batch fails even when fully cached.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := domain.ValidateEmbeddingBatch(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingAt []int
	seen := make(map[string]int)
	for i, text := range texts {
		if vec, ok := c.cache.Get(text); ok {
			out[i] = vec
			continue
		}
		if _, dup := seen[text]; !dup {
			seen[text] = len(missing)
			missing = append(missing, text)
		}
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, text := range missing {
		if j < len(vectors) {
			c.cache.Add(text, vectors[j])
		}
	}
	for _, i := range missingAt {
		if j := seen[texts[i]]; j < len(vectors) {
			out[i] = vectors[j]
		}
	}
	return out, nil
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }

// Dimensions implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Name() string { return c.inner.Name() }
