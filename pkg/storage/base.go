// Package storage provides durable persistence for memory records and
// the repository facade that composes a metadata store, a vector index,
// and an embedding provider.
//
// It defines the narrow contracts every backend must satisfy; the
// sqlite, postgres, and mysql subpackages implement them.
package storage

import (
	"context"
	"time"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
)

// MetadataStore is durable record persistence keyed by external id.
type MetadataStore interface {
	// Save persists or upserts the given record by its external id.
	Save(ctx context.Context, record *core.MemoryRecord) error

	// ListAll returns every stored record. No ordering is guaranteed
	// beyond being stable enough for later explicit sorts.
	ListAll(ctx context.Context) ([]*core.MemoryRecord, error)

	// Get returns the record with the given external id, or
	// core.ErrNotFound.
	Get(ctx context.Context, id string) (*core.MemoryRecord, error)

	// ListIDs returns up to limit external ids, optionally filtered by
	// category (empty means all). Used for bounded candidate windows.
	ListIDs(ctx context.Context, category core.Category, limit int) ([]string, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Close closes the store and releases resources.
	Close() error
}

// KeywordHit is a single keyword/full-text search hit.
type KeywordHit struct {
	// ID is the matched record's external id.
	ID string

	// RawScore is the backend's native relevance. bm25-style backends
	// report more-negative-is-better magnitudes; others report
	// non-negative scores. Normalization happens at fusion time.
	RawScore float64
}

// KeywordSearcher is a keyword/full-text search source over an index
// kept in sync with the metadata store.
type KeywordSearcher interface {
	// SearchKeyword returns up to k hits for the query, best first.
	SearchKeyword(ctx context.Context, query string, k int) ([]KeywordHit, error)
}

// AccessStats summarizes the access log for one record.
type AccessStats struct {
	// Count is the total number of logged accesses.
	Count int

	// Last is the most recent access time; nil if never accessed.
	Last *time.Time
}

// AccessLogStore records and summarizes memory accesses.
type AccessLogStore interface {
	// RecordAccess appends an access-log entry.
	RecordAccess(ctx context.Context, memoryID string, at time.Time, accessType string) error

	// AccessStats returns the access summary for a record.
	AccessStats(ctx context.Context, memoryID string) (AccessStats, error)
}

// FeedbackStore keeps a single current feedback rating per memory id.
type FeedbackStore interface {
	// SaveFeedback upserts the rating and comment for a record.
	SaveFeedback(ctx context.Context, memoryID string, rating float64, comment string, at time.Time) error

	// FeedbackRating returns the recorded rating; ok is false when no
	// feedback exists for the record.
	FeedbackRating(ctx context.Context, memoryID string) (rating float64, ok bool, err error)
}
