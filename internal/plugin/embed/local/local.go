// Package local implements a deterministic, dependency-free Embedder used in
// tests and offline/dev deployments. Its compressed tier is a fixed hashed
// projection into a smaller space, not a truncation of the full vector (the
// two tiers are independent deterministic hashes, which keeps both tiers
// stable across runs without requiring the full vector to compute the
// compressed one).
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	registryembed "github.com/federated-memory/federated-memory/internal/registry/embed"
)

const (
	modelVersion   = "local-hash-v1"
	dimensionFull  = 1536
	dimensionShort = 512
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name: "local",
		Loader: func(_ context.Context) (registryembed.Embedder, error) {
			return &Embedder{}, nil
		},
	})
}

// Embedder hashes tokens into a fixed-width bag-of-words vector and
// L2-normalizes it. Same text, same tier always yields the same vector.
type Embedder struct{}

func (e *Embedder) ModelVersion() string { return modelVersion }

func (e *Embedder) Dimension(tier registryembed.Tier) int {
	if tier == registryembed.TierCompressed {
		return dimensionShort
	}
	return dimensionFull
}

func (e *Embedder) EmbedTexts(_ context.Context, texts []string, tier registryembed.Tier) ([][]float32, error) {
	dim := e.Dimension(tier)
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = embedOne(text, dim)
	}
	return results, nil
}

func embedOne(text string, dim int) []float32 {
	vector := make([]float32, dim)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		i := int(h.Sum64() % uint64(dim))
		vector[i] += 1
	}
	var norm float32
	for _, v := range vector {
		norm += v * v
	}
	if norm == 0 {
		return vector
	}
	inv := 1 / float32(math.Sqrt(float64(norm)))
	for i := range vector {
		vector[i] *= inv
	}
	return vector
}

func tokenize(text string) []string {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "" {
		return nil
	}
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})
}

var _ registryembed.Embedder = (*Embedder)(nil)
