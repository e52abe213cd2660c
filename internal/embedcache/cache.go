// Package embedcache wraps an embed.Embedder with the determinism cache and
// in-flight request coalescing described in §4.1 and §5 ("the embedding
// cache (concurrent map with single-flight per key)").
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	registryembed "github.com/federated-memory/federated-memory/internal/registry/embed"
	"golang.org/x/sync/singleflight"
)

const defaultTTL = 24 * time.Hour

// Cache is an Embedder decorator: identical (text, tier, modelVersion) calls
// return the cached vector for the cache's lifetime, and concurrent callers
// whose batches miss the same set of keys share one upstream call (§4.1
// "Batching").
type Cache struct {
	inner registryembed.Embedder
	store *ristretto.Cache[string, []float32]
	group singleflight.Group
	ttl   time.Duration
}

// New wraps inner with a bounded, TTL'd cache. maxCost bounds the cache's
// approximate memory footprint in ristretto cost units (roughly bytes).
func New(inner registryembed.Embedder, maxCost int64) (*Cache, error) {
	store, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: maxCost / 8,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner, store: store, ttl: defaultTTL}, nil
}

func (c *Cache) ModelVersion() string { return c.inner.ModelVersion() }

func (c *Cache) Dimension(tier registryembed.Tier) int { return c.inner.Dimension(tier) }

// key implements the cache key from §4.1: sha256(text) ⊕ tier ⊕ modelVersion.
func key(text string, tier registryembed.Tier, modelVersion string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:]) + "|" + string(tier) + "|" + modelVersion
}

// EmbedTexts resolves each text from cache where possible, coalesces
// concurrent callers requesting the same missing batch via singleflight, and
// fills the cache with whatever the upstream embedder returns.
func (c *Cache) EmbedTexts(ctx context.Context, texts []string, tier registryembed.Tier) ([][]float32, error) {
	result := make([][]float32, len(texts))
	modelVersion := c.inner.ModelVersion()
	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = key(text, tier, modelVersion)
	}

	// Dedup misses: two slots asking for the same text share one upstream
	// slot too, not just one cache write.
	var missKeys []string
	var missTexts []string
	missPos := map[string]int{}
	for i, text := range texts {
		if v, ok := c.store.Get(keys[i]); ok {
			result[i] = v
			continue
		}
		if _, seen := missPos[keys[i]]; seen {
			continue
		}
		missPos[keys[i]] = len(missKeys)
		missKeys = append(missKeys, keys[i])
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return result, nil
	}

	sfKey := batchKey(missKeys)
	v, err, _ := c.group.Do(sfKey, func() (interface{}, error) {
		vecs, err := c.inner.EmbedTexts(ctx, missTexts, tier)
		if err != nil {
			return nil, err
		}
		for i, vec := range vecs {
			c.store.SetWithTTL(missKeys[i], vec, int64(len(vec)*4), c.ttl)
		}
		return vecs, nil
	})
	if err != nil {
		return nil, err
	}
	vecs := v.([][]float32)

	for i, text := range texts {
		if result[i] != nil {
			continue
		}
		pos := missPos[key(text, tier, modelVersion)]
		result[i] = vecs[pos]
	}
	return result, nil
}

func batchKey(keys []string) string {
	joined := ""
	for _, k := range keys {
		joined += k + ","
	}
	return joined
}

var _ registryembed.Embedder = (*Cache)(nil)
