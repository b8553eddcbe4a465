// Package embedder provides the interface to optional text embedding
// services and the guard that keeps them off the simulation's critical path.
//
// Embeddings only ever refine knowledge selection. Callers go through
// Guarded, which bounds every call with a timeout and a rate limit and
// reports failure instead of returning an error, so that a slow or missing
// service degrades selection to keyword-only matching.
package embedder

import (
	"context"
	"math"
)

// Provider defines the interface for embedding providers.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - text: The input text to embed
	//
	// Returns the embedding vector and any error.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings, in
	// input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of produced vectors.
	Dimensions() int

	// Close releases provider resources.
	Close() error
}

// Cosine returns the cosine similarity of a and b. Vectors of different
// length or zero norm have similarity 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
