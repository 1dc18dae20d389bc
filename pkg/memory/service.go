// Package memory exposes the high-level service facade: capture on
// the write side, hybrid and cascaded search on the read side, plus
// importance scoring and metrics.
package memory

import (
	"context"
	"log"
	"time"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
	"github.com/mnemo-labs/mnemo-go/pkg/intelligence"
	"github.com/mnemo-labs/mnemo-go/pkg/retrieval"
	"github.com/mnemo-labs/mnemo-go/pkg/storage"
)

// DefaultLLMTimeout bounds each model-backed pipeline stage run on
// behalf of a capture. The pipeline applies it per stage, see
// intelligence.WithLLMTimeout.
const DefaultLLMTimeout = 30 * time.Second

// CaptureResult reports the outcome of one capture.
type CaptureResult struct {
	ShouldStore bool
	Reason      string
	Stored      bool
	RecordID    string
	Category    core.Category
	DuplicateID string
	Record      *core.MemoryRecord
}

// Service bundles the repository, the capture pipeline, and the
// retrievers behind one coordinator.
type Service struct {
	repository *storage.Repository
	pipeline   *intelligence.Pipeline
	hybrid     *retrieval.HybridRetriever
	cascaded   *retrieval.CascadedRetriever
	scorer     *intelligence.ImportanceScorer
	metrics    *Metrics
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHybridRetriever attaches a hybrid retriever.
func WithHybridRetriever(hybrid *retrieval.HybridRetriever) ServiceOption {
	return func(s *Service) { s.hybrid = hybrid }
}

// WithCascadedRetriever attaches a cascaded retriever.
func WithCascadedRetriever(cascaded *retrieval.CascadedRetriever) ServiceOption {
	return func(s *Service) { s.cascaded = cascaded }
}

// WithImportanceScorer attaches an importance scorer.
func WithImportanceScorer(scorer *intelligence.ImportanceScorer) ServiceOption {
	return func(s *Service) { s.scorer = scorer }
}

// NewService creates a service over the repository and pipeline.
func NewService(repository *storage.Repository, pipeline *intelligence.Pipeline, opts ...ServiceOption) *Service {
	s := &Service{
		repository: repository,
		pipeline:   pipeline,
		metrics:    NewMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repository exposes the underlying repository.
func (s *Service) Repository() *storage.Repository {
	return s.repository
}

// Metrics exposes the service counters.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// Capture runs the write path: snapshot existing records, evaluate
// retention, curate, deduplicate, and persist. Curation failures are
// logged and reported as "not stored"; they never abort the caller's
// turn.
func (s *Service) Capture(ctx context.Context, source *core.MemorySourceData) *CaptureResult {
	// Point-in-time snapshot: a concurrent capture can still slip a
	// duplicate past this read. Callers serialize captures per session.
	existing, err := s.repository.ListAll(ctx)
	if err != nil {
		log.Printf("memory: listing existing records failed: %v", err)
		existing = nil
	}

	pipelineResult, err := s.pipeline.Run(ctx, source, existing)
	if err != nil {
		log.Printf("memory: capture pipeline failed: %v", err)
		s.metrics.RecordCapture(false, false)
		return &CaptureResult{ShouldStore: false, Reason: "curation failed", Stored: false}
	}

	result := &CaptureResult{
		ShouldStore: pipelineResult.Retention.ShouldStore,
		Reason:      pipelineResult.Retention.Reason,
	}
	if pipelineResult.DuplicateOf != nil {
		result.DuplicateID = pipelineResult.DuplicateOf.ID
	}

	if pipelineResult.Record != nil && pipelineResult.Retention.ShouldStore {
		record := pipelineResult.Record
		metadata := record.EnsureMetadata()
		metadata["retention_reason"] = pipelineResult.Retention.Reason
		metadata["retention_timestamp"] = time.Now().UTC().Format(time.RFC3339)
		metadata["resolved"] = true

		if err := s.repository.Add(ctx, record); err != nil {
			log.Printf("memory: persisting record failed: %v", err)
			s.metrics.RecordCapture(false, result.DuplicateID != "")
			result.Reason = "persistence failed"
			return result
		}

		result.Stored = true
		result.RecordID = record.ID
		result.Category = record.Category
		result.Record = record
	}

	s.metrics.RecordCapture(result.Stored, result.DuplicateID != "")
	return result
}

// Search runs plain vector-similarity search and logs an access for
// every returned record.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]storage.Match, error) {
	start := time.Now()
	matches, err := s.repository.Search(ctx, query, topK)
	s.recordRetrieval("vector", len(matches), start, err)
	if err != nil {
		return nil, err
	}
	s.logAccesses(ctx, recordIDs(matches))
	return matches, nil
}

// SearchHybrid runs fused vector+keyword search. Without a configured
// hybrid retriever it degrades to plain vector search.
func (s *Service) SearchHybrid(ctx context.Context, query string, topK int) ([]retrieval.SearchResult, error) {
	if s.hybrid == nil {
		matches, err := s.Search(ctx, query, topK)
		if err != nil {
			return nil, err
		}
		results := make([]retrieval.SearchResult, 0, len(matches))
		for i, match := range matches {
			results = append(results, retrieval.SearchResult{
				Record:      match.Record,
				VectorScore: match.Score,
				Rank:        i + 1,
			})
		}
		return results, nil
	}

	start := time.Now()
	results, err := s.hybrid.Search(ctx, query, topK)
	s.recordRetrieval("hybrid", len(results), start, err)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(results))
	for _, result := range results {
		ids = append(ids, result.Record.ID)
	}
	s.logAccesses(ctx, ids)
	return results, nil
}

// RetrieveCascaded runs multi-hop LLM-guided retrieval.
func (s *Service) RetrieveCascaded(ctx context.Context, userRequest string) (*retrieval.CascadedResult, error) {
	if s.cascaded == nil {
		matches, err := s.Search(ctx, userRequest, retrieval.DefaultCascadeTopK)
		if err != nil {
			return nil, err
		}
		result := &retrieval.CascadedResult{}
		for _, match := range matches {
			result.Matches = append(result.Matches, retrieval.CascadedMatch{
				Record: match.Record,
				Score:  match.Score,
			})
		}
		return result, nil
	}

	start := time.Now()
	result, err := s.cascaded.Retrieve(ctx, userRequest)
	matchCount := 0
	if result != nil {
		matchCount = len(result.Matches)
	}
	s.recordRetrieval("cascaded", matchCount, start, err)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(result.Matches))
	for _, match := range result.Matches {
		ids = append(ids, match.Record.ID)
	}
	s.logAccesses(ctx, ids)
	return result, nil
}

// RecordFeedback stores a user rating for a memory.
func (s *Service) RecordFeedback(ctx context.Context, memoryID string, rating float64, comment string) error {
	if s.scorer == nil {
		return core.NewMemoryError("RecordFeedback", core.ErrInvalidConfig)
	}
	return s.scorer.RecordFeedback(ctx, memoryID, rating, comment, time.Now().UTC())
}

// TopMemories returns the highest-importance memories.
func (s *Service) TopMemories(ctx context.Context, limit int, category core.Category) ([]*intelligence.ImportanceScore, error) {
	if s.scorer == nil {
		return nil, nil
	}
	return s.scorer.GetTopMemories(ctx, limit, category)
}

// Close releases the repository's resources.
func (s *Service) Close() error {
	return s.repository.Close()
}

func (s *Service) recordRetrieval(operation string, matchCount int, start time.Time, err error) {
	latencyMS := float64(time.Since(start).Microseconds()) / 1000
	s.metrics.RecordRetrieval(operation, matchCount, latencyMS, err == nil)
}

func (s *Service) logAccesses(ctx context.Context, ids []string) {
	if s.scorer == nil {
		return
	}
	now := time.Now().UTC()
	for _, id := range ids {
		if err := s.scorer.RecordAccess(ctx, id, now, "retrieval"); err != nil {
			log.Printf("memory: recording access for %s failed: %v", id, err)
		}
	}
}

func recordIDs(matches []storage.Match) []string {
	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, match.Record.ID)
	}
	return ids
}
