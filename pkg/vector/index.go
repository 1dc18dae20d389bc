// Package vector provides nearest-neighbor indexes over normalized
// embedding vectors, queried by cosine similarity.
package vector

import "context"

// Result is a single entry returned by a similarity search.
type Result struct {
	// ID is the external id of the matched record.
	ID string

	// Score is the cosine similarity in [-1, 1]; for normalized inputs
	// effectively [0, 1] with 1.0 meaning identical.
	Score float64
}

// Entry pairs an external id with its embedding, used to rebuild an
// index from already-persisted records.
type Entry struct {
	ID        string
	Embedding []float64
}

// Index is a nearest-neighbor store over normalized vectors.
//
// Implementations L2-normalize vectors before an inner-product
// comparison, so scores are cosine similarities. Search on an empty
// index returns an empty result, never an error.
type Index interface {
	// Add inserts the embedding for a record id.
	Add(ctx context.Context, id string, embedding []float64) error

	// Search returns up to topK most similar entries, best first.
	Search(ctx context.Context, embedding []float64, topK int) ([]Result, error)

	// Len returns the number of indexed vectors.
	Len() int

	// Populate rebuilds the index from persisted entries. It is a no-op
	// when the index already has entries.
	Populate(ctx context.Context, entries []Entry) error
}
