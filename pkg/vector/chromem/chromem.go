// Package chromem adapts chromem-go, a pure Go embedded vector
// database, to the vector.Index interface.
//
// Unlike the flat index it keeps no index-blob/side-car artifact of its
// own; use it when the caller does not need the on-disk index layout.
package chromem

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"github.com/mnemo-labs/mnemo-go/pkg/vector"
)

// Index implements vector.Index on a chromem-go collection.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	count      int
}

// New creates an in-memory chromem-backed index.
func New(collectionName string) (*Index, error) {
	if collectionName == "" {
		collectionName = "memories"
	}

	db := chromem.NewDB()
	// Embeddings are always provided by the caller, so no embedding
	// function is configured on the collection.
	col, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: create collection: %w", err)
	}

	return &Index{db: db, collection: col}, nil
}

// Add inserts the embedding for a record id.
func (i *Index) Add(ctx context.Context, id string, embedding []float64) error {
	doc := chromem.Document{
		ID:        id,
		Content:   id,
		Embedding: toFloat32(embedding),
	}
	if err := i.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("chromem: add document: %w", err)
	}
	i.count++
	return nil
}

// Search returns up to topK most similar entries, best first.
func (i *Index) Search(ctx context.Context, embedding []float64, topK int) ([]vector.Result, error) {
	if i.count == 0 || topK <= 0 {
		return nil, nil
	}

	// chromem rejects nResults larger than the collection size.
	if topK > i.count {
		topK = i.count
	}

	hits, err := i.collection.QueryEmbedding(ctx, toFloat32(embedding), topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	results := make([]vector.Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, vector.Result{
			ID:    hit.ID,
			Score: float64(hit.Similarity),
		})
	}
	return results, nil
}

// Len returns the number of indexed vectors.
func (i *Index) Len() int {
	return i.count
}

// Populate rebuilds the index from persisted entries; no-op when the
// index already has entries.
func (i *Index) Populate(ctx context.Context, entries []vector.Entry) error {
	if i.count > 0 {
		return nil
	}
	for _, entry := range entries {
		if len(entry.Embedding) == 0 {
			continue
		}
		if err := i.Add(ctx, entry.ID, entry.Embedding); err != nil {
			return err
		}
	}
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
