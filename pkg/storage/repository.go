package storage

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/snowflake"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
	"github.com/mnemo-labs/mnemo-go/pkg/embedder"
	"github.com/mnemo-labs/mnemo-go/pkg/vector"
)

// Match pairs a record with its vector similarity score.
type Match struct {
	Record *core.MemoryRecord
	Score  float64
}

// Repository coordinates the metadata store, the vector index, and the
// embedding provider. When the index or embedder is absent it degrades
// to a store-only mode: records persist without embeddings and vector
// search returns no results.
type Repository struct {
	store    MetadataStore
	index    vector.Index
	embedder embedder.Provider
	node     *snowflake.Node
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithVectorIndex attaches a vector index to the repository.
func WithVectorIndex(index vector.Index) RepositoryOption {
	return func(r *Repository) { r.index = index }
}

// WithEmbedder attaches an embedding provider to the repository.
func WithEmbedder(provider embedder.Provider) RepositoryOption {
	return func(r *Repository) { r.embedder = provider }
}

// NewRepository creates a repository over the given store.
//
// When an embedder reports unknown dimensions, a probe embedding is
// requested at construction time so the mismatch surfaces immediately
// instead of on the first capture.
func NewRepository(store MetadataStore, opts ...RepositoryOption) (*Repository, error) {
	if store == nil {
		return nil, core.NewMemoryError("NewRepository", fmt.Errorf("%w: metadata store is required", core.ErrInvalidConfig))
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, core.NewMemoryError("NewRepository", err)
	}

	repo := &Repository{store: store, node: node}
	for _, opt := range opts {
		opt(repo)
	}

	if repo.embedder != nil && repo.embedder.Dimensions() == 0 {
		probe, err := repo.embedder.Embed(context.Background(), "dimension probe")
		if err != nil {
			return nil, core.NewMemoryError("NewRepository", fmt.Errorf("%w: probe: %v", core.ErrEmbeddingFailed, err))
		}
		if len(probe) == 0 {
			return nil, core.NewMemoryError("NewRepository", fmt.Errorf("%w: probe returned empty vector", core.ErrEmbeddingFailed))
		}
	}

	if repo.index == nil || repo.embedder == nil {
		log.Printf("repository: running store-only, vector search disabled")
	}

	return repo, nil
}

// StoreOnly reports whether the repository lacks a vector search path.
func (r *Repository) StoreOnly() bool {
	return r.index == nil || r.embedder == nil
}

// Add persists the record and, when a vector path is available, embeds
// and indexes it. A record without an id is assigned one.
func (r *Repository) Add(ctx context.Context, record *core.MemoryRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		record.ID = r.node.Generate().String()
	}

	if !r.StoreOnly() {
		text := record.EmbeddingText()
		if text != "" {
			emb, err := r.embedder.Embed(ctx, text)
			if err != nil {
				return core.NewMemoryError("Repository.Add", fmt.Errorf("%w: %v", core.ErrEmbeddingFailed, err))
			}
			record.Embedding = emb
			if err := r.index.Add(ctx, record.ID, emb); err != nil {
				return core.NewMemoryError("Repository.Add", err)
			}
		}
	}

	if err := r.store.Save(ctx, record); err != nil {
		return core.NewMemoryError("Repository.Add", err)
	}
	return nil
}

// BulkAdd adds records one by one, stopping at the first failure.
func (r *Repository) BulkAdd(ctx context.Context, records []*core.MemoryRecord) (int, error) {
	for i, record := range records {
		if err := r.Add(ctx, record); err != nil {
			return i, err
		}
	}
	return len(records), nil
}

// Get returns the record with the given id.
func (r *Repository) Get(ctx context.Context, id string) (*core.MemoryRecord, error) {
	return r.store.Get(ctx, id)
}

// ListAll returns every stored record.
func (r *Repository) ListAll(ctx context.Context) ([]*core.MemoryRecord, error) {
	return r.store.ListAll(ctx)
}

// Count returns the number of stored records.
func (r *Repository) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}

// Store exposes the underlying metadata store.
func (r *Repository) Store() MetadataStore {
	return r.store
}

// Search embeds the query and returns the topK nearest records.
//
// In store-only mode the result is empty, not an error. Index hits
// whose record no longer exists in the store are dropped.
func (r *Repository) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	if r.StoreOnly() || topK <= 0 {
		return nil, nil
	}

	queryEmb, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, core.NewMemoryError("Repository.Search", fmt.Errorf("%w: %v", core.ErrEmbeddingFailed, err))
	}

	hits, err := r.index.Search(ctx, queryEmb, topK)
	if err != nil {
		return nil, core.NewMemoryError("Repository.Search", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	records, err := r.store.ListAll(ctx)
	if err != nil {
		return nil, core.NewMemoryError("Repository.Search", err)
	}
	byID := make(map[string]*core.MemoryRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	matches := make([]Match, 0, len(hits))
	for _, hit := range hits {
		rec, ok := byID[hit.ID]
		if !ok {
			log.Printf("repository: index hit %s has no stored record, dropping", hit.ID)
			continue
		}
		matches = append(matches, Match{Record: rec, Score: hit.Score})
	}
	return matches, nil
}

// PopulateIndex seeds an empty vector index from stored embeddings.
func (r *Repository) PopulateIndex(ctx context.Context) error {
	if r.index == nil {
		return nil
	}
	records, err := r.store.ListAll(ctx)
	if err != nil {
		return core.NewMemoryError("Repository.PopulateIndex", err)
	}
	entries := make([]vector.Entry, 0, len(records))
	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			continue
		}
		entries = append(entries, vector.Entry{ID: rec.ID, Embedding: rec.Embedding})
	}
	if err := r.index.Populate(ctx, entries); err != nil {
		return core.NewMemoryError("Repository.PopulateIndex", err)
	}
	return nil
}

// Close closes the store and, when present, the embedder.
func (r *Repository) Close() error {
	var firstErr error
	if r.embedder != nil {
		if err := r.embedder.Close(); err != nil {
			firstErr = err
		}
	}
	if err := r.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
