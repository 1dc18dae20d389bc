// Package embedder provides interfaces for text embedding providers.
//
// The repository consumes embeddings through the narrow Provider
// contract; the engine never bundles model inference in-process.
// Providers must be deterministic for identical input, and the vector
// dimension is fixed and queryable.
package embedder

import "context"

// Provider defines the interface for embedding providers.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple texts in one call; results preserve
	// input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of vectors this provider emits.
	// A provider may return 0 when the dimension is unknown until the
	// first call; the repository probes such providers at construction.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}
