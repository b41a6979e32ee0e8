package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key layout: jobscout:embed:vector:{model}:{sha256(text)}.
const cacheKeyFormat = "jobscout:embed:vector:%s:%s"

// CachedEmbedder memoizes single-text embeddings in Redis, keyed by model
// and content digest. Identical candidate texts then cost one provider call
// instead of one per match request. Cache trouble is never fatal; the call
// falls through to the inner embedder.
type CachedEmbedder struct {
	inner  Embedder
	rdb    *redis.Client
	model  string
	ttl    time.Duration
	logger *zap.Logger
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder parses redisURL, verifies connectivity and wraps inner.
func NewCachedEmbedder(ctx context.Context, inner Embedder, redisURL, model string, ttl time.Duration, logger *zap.Logger) (*CachedEmbedder, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &CachedEmbedder{
		inner:  inner,
		rdb:    rdb,
		model:  model,
		ttl:    ttl,
		logger: logger.Named("embed-cache"),
	}, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf(cacheKeyFormat, c.model, hex.EncodeToString(sum[:]))
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	if blob, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		if vec := Deserialize(blob); vec != nil {
			return vec, nil
		}
	} else if err != redis.Nil {
		c.logger.Debug("cache read failed", zap.Error(err))
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.rdb.Set(ctx, key, Serialize(vec), c.ttl).Err(); err != nil {
		c.logger.Debug("cache write failed", zap.Error(err))
	}
	return vec, nil
}

// EmbedBatch is not cached: job batches are already deduplicated upstream by
// the query-fingerprint cache.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}

// Close releases the Redis connection.
func (c *CachedEmbedder) Close() error { return c.rdb.Close() }
