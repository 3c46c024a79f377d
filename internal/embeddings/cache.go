package embeddings

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// QueryCache keeps recent query embeddings so repeated searches skip the
// provider. Document embeddings always pass through: their text changes
// with every edit and a stale hit would hide a model swap.
type QueryCache struct {
	Service
	cache *expirable.LRU[uint64, []float32]
}

// NewQueryCache wraps inner with an expiring LRU of query embeddings. A
// non-positive size or ttl disables caching and returns inner unchanged.
func NewQueryCache(inner Service, size int, ttl time.Duration) Service {
	if size <= 0 || ttl <= 0 {
		return inner
	}
	return &QueryCache{
		Service: inner,
		cache:   expirable.NewLRU[uint64, []float32](size, nil, ttl),
	}
}

// EmbedQuery returns a cached vector when the same model saw the same text.
func (c *QueryCache) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if cached, ok := c.cache.Get(key); ok {
		log.Debug("Query embedding cache hit", "model", c.ModelName())
		return cloneVector(cached), nil
	}

	vec, err := c.Service.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneVector(vec))
	return vec, nil
}

// Len returns the number of cached queries.
func (c *QueryCache) Len() int {
	return c.cache.Len()
}

func (c *QueryCache) key(text string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(IdentityOf(c.Service).String())
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(text)
	return h.Sum64()
}

func cloneVector(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
