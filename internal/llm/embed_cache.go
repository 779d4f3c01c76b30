package llm

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/metrics"
	"github.com/support-rag/backend/pkg/logger"
	"github.com/support-rag/backend/pkg/utils"
)

// EmbeddingStore is a shared second-level cache, typically redis.
type EmbeddingStore interface {
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
}

// CachedEmbedder serves embeddings from an in-process LRU, then the shared
// store, then the wrapped embedder. Cache faults never fail an Embed call.
type CachedEmbedder struct {
	next   Embedder
	local  *expirable.LRU[string, []float32]
	shared EmbeddingStore
	ttl    time.Duration
}

func NewCachedEmbedder(next Embedder, shared EmbeddingStore, capacity int, ttl time.Duration) *CachedEmbedder {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedEmbedder{
		next:   next,
		local:  expirable.NewLRU[string, []float32](capacity, nil, ttl),
		shared: shared,
		ttl:    ttl,
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := utils.HashString(text)

	if v, ok := c.local.Get(key); ok {
		metrics.CacheHits.WithLabelValues("embedding_local").Inc()
		return v, nil
	}
	metrics.CacheMisses.WithLabelValues("embedding_local").Inc()

	if c.shared != nil {
		v, ok, err := c.shared.GetEmbedding(ctx, key)
		switch {
		case err != nil:
			logger.Warn("Shared embedding cache read failed", zap.Error(err))
		case ok:
			metrics.CacheHits.WithLabelValues("embedding_shared").Inc()
			c.local.Add(key, v)
			return v, nil
		default:
			metrics.CacheMisses.WithLabelValues("embedding_shared").Inc()
		}
	}

	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.local.Add(key, v)
	if c.shared != nil {
		if err := c.shared.SetEmbedding(ctx, key, v, c.ttl); err != nil {
			logger.Warn("Shared embedding cache write failed", zap.Error(err))
		}
	}
	return v, nil
}
