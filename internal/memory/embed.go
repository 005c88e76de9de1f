// Package memory implements hybrid retrieval over prior context: a
// vector store fused with a BM25 inverted index via Reciprocal Rank
// Fusion.
package memory

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder generates a fixed-dimension embedding for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// HashEmbedder is a deterministic local embedder: it hashes each token
// of the input into a bucket of a fixed-width vector of counts and
// L2-normalizes it. It never calls out to a network and is suitable as the default
// embedder for tests and offline use.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder constructs a HashEmbedder producing vectors of the
// given dimension. dim defaults to 256 if zero.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	for _, tok := range tokenize(text) {
		hsh := fnv.New32a()
		hsh.Write([]byte(tok))
		bucket := int(hsh.Sum32()) % h.dim
		if bucket < 0 {
			bucket += h.dim
		}
		vec[bucket]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec, nil
}
