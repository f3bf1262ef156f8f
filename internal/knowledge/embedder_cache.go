package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"
)

// EmbeddingCache 查询向量缓存
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vector []float32) error
}

// CachedEmbedder 带缓存的Embedder，缓存故障只记日志不影响结果
type CachedEmbedder struct {
	inner  Embedder
	cache  EmbeddingCache
	logger *zap.Logger
}

// NewCachedEmbedder 包装Embedder
func NewCachedEmbedder(inner Embedder, cache EmbeddingCache, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{inner: inner, cache: cache, logger: logger}
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		keys[i] = c.key(text)
		vec, ok, err := c.cache.Get(ctx, keys[i])
		if err != nil {
			c.logger.Warn("embedding cache get failed", zap.Error(err))
		}
		if ok && len(vec) == c.inner.Dimensions() {
			vectors[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(fresh), len(missTexts))
	}
	for j, i := range missIdx {
		vectors[i] = fresh[j]
		if err := c.cache.Set(ctx, keys[i], fresh[j]); err != nil {
			c.logger.Warn("embedding cache set failed", zap.Error(err))
		}
	}
	return vectors, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.inner.Model() + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

func (c *CachedEmbedder) Model() string {
	return c.inner.Model()
}

func (c *CachedEmbedder) Ready() bool {
	return c.inner.Ready()
}
