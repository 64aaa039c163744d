// Package cache puts a key-value cache in front of the embedding provider.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zettel-agent/backend/internal/metrics"
	"github.com/zettel-agent/backend/internal/similarity"
	"github.com/zettel-agent/backend/pkg/logger"
	"github.com/zettel-agent/backend/pkg/utils"
)

// EmbeddingCache is a batch key-value store for vectors. GetEmbeddings
// returns one entry per key, nil for a miss.
type EmbeddingCache interface {
	GetEmbeddings(ctx context.Context, keys []string) ([][]float32, error)
	SetEmbeddings(ctx context.Context, keys []string, embeddings [][]float32, ttl time.Duration) error
}

// CachedEmbedder serves embeddings from cache and sends only the misses
// upstream, in one batch. Cache failures degrade to uncached behaviour.
type CachedEmbedder struct {
	upstream  similarity.Embedder
	cache     EmbeddingCache
	namespace string
	ttl       time.Duration
}

// NewCachedEmbedder keys entries by namespace, which should identify the
// embedding model so vectors from different models never mix.
func NewCachedEmbedder(upstream similarity.Embedder, cache EmbeddingCache, namespace string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{upstream: upstream, cache: cache, namespace: "embedding:" + namespace, ttl: ttl}
}

func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = utils.CacheKey(e.namespace, text)
	}

	cached, err := e.cache.GetEmbeddings(ctx, keys)
	if err != nil || len(cached) != len(texts) {
		if err != nil {
			logger.Warn("Embedding cache unavailable", zap.Error(err))
		}
		cached = make([][]float32, len(texts))
	}

	var missIdx []int
	var missTexts []string
	for i, vec := range cached {
		if vec == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}

	metrics.CacheHits.WithLabelValues("embedding").Add(float64(len(texts) - len(missIdx)))
	metrics.CacheMisses.WithLabelValues("embedding").Add(float64(len(missIdx)))

	if len(missIdx) == 0 {
		return cached, nil
	}

	fresh, err := e.upstream.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	if len(fresh) != len(missIdx) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(fresh), len(missIdx))
	}

	missKeys := make([]string, len(missIdx))
	for j, i := range missIdx {
		cached[i] = fresh[j]
		missKeys[j] = keys[i]
	}

	if err := e.cache.SetEmbeddings(ctx, missKeys, fresh, e.ttl); err != nil {
		logger.Warn("Failed to store embeddings in cache", zap.Error(err))
	}
	return cached, nil
}

// MemoryCache is an EmbeddingCache held in process memory. Entries never
// expire.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]float32
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]float32)}
}

func (c *MemoryCache) GetEmbeddings(ctx context.Context, keys []string) ([][]float32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([][]float32, len(keys))
	for i, key := range keys {
		out[i] = c.entries[key]
	}
	return out, nil
}

func (c *MemoryCache) SetEmbeddings(ctx context.Context, keys []string, embeddings [][]float32, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, key := range keys {
		c.entries[key] = embeddings[i]
	}
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
