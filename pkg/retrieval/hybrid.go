// Package retrieval implements the read side: hybrid vector+keyword
// search with reciprocal rank fusion, and LLM-guided cascaded
// multi-hop retrieval.
package retrieval

import (
	"context"
	"log"
	"math"
	"sort"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
	"github.com/mnemo-labs/mnemo-go/pkg/storage"
)

const (
	// DefaultRRFK is the rank-smoothing constant of reciprocal rank
	// fusion.
	DefaultRRFK = 60

	// DefaultVectorWeight and DefaultKeywordWeight balance the two
	// retrieval sources in the fused score.
	DefaultVectorWeight  = 0.6
	DefaultKeywordWeight = 0.4

	// Keyword ranks from SQLite's bm25 arrive negative, with more
	// negative meaning better; this range maps them linearly to [0,1].
	keywordScoreFloor = -20.0
)

// SearchResult is one hybrid search hit with its per-source scores and
// final rank.
type SearchResult struct {
	Record       *core.MemoryRecord
	VectorScore  float64
	KeywordScore float64
	RRFScore     float64
	Rank         int
}

// HybridStatistics summarises one hybrid search run.
type HybridStatistics struct {
	VectorHits  int
	KeywordHits int
	Fused       int
	Returned    int
}

// vectorSearcher is the semantic side of hybrid search, satisfied by
// *storage.Repository.
type vectorSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]storage.Match, error)
	ListAll(ctx context.Context) ([]*core.MemoryRecord, error)
}

// HybridRetriever fuses vector-similarity and keyword full-text search
// with reciprocal rank fusion.
type HybridRetriever struct {
	repository    vectorSearcher
	keyword       storage.KeywordSearcher
	vectorWeight  float64
	keywordWeight float64
	rrfK          int

	lastStats HybridStatistics
}

// HybridOption configures a HybridRetriever.
type HybridOption func(*HybridRetriever)

// WithWeights overrides the vector/keyword fusion weights.
func WithWeights(vectorWeight, keywordWeight float64) HybridOption {
	return func(h *HybridRetriever) {
		h.vectorWeight = vectorWeight
		h.keywordWeight = keywordWeight
	}
}

// WithRRFK overrides the RRF smoothing constant.
func WithRRFK(k int) HybridOption {
	return func(h *HybridRetriever) { h.rrfK = k }
}

// NewHybridRetriever creates a hybrid retriever over the repository's
// vector search and the given keyword search source.
func NewHybridRetriever(repository vectorSearcher, keyword storage.KeywordSearcher, opts ...HybridOption) *HybridRetriever {
	h := &HybridRetriever{
		repository:    repository,
		keyword:       keyword,
		vectorWeight:  DefaultVectorWeight,
		keywordWeight: DefaultKeywordWeight,
		rrfK:          DefaultRRFK,
	}
	for _, opt := range opts {
		opt(h)
	}
	if sum := h.vectorWeight + h.keywordWeight; math.Abs(sum-1.0) > 0.01 {
		log.Printf("hybrid: fusion weights sum to %.3f, not 1.0", sum)
	}
	return h
}

// Search runs both sources with a widened candidate window, fuses the
// two ranked lists, and returns the topK fused results joined back to
// full records. IDs for which no record resolves are dropped.
func (h *HybridRetriever) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	candidateK := topK * 2

	vectorMatches, err := h.repository.Search(ctx, query, candidateK)
	if err != nil {
		return nil, err
	}

	var keywordHits []storage.KeywordHit
	if h.keyword != nil {
		keywordHits, err = h.keyword.SearchKeyword(ctx, query, candidateK)
		if err != nil {
			log.Printf("hybrid: keyword search failed, continuing vector-only: %v", err)
			keywordHits = nil
		}
	}

	vectorRanks := make(map[string]int, len(vectorMatches))
	vectorScores := make(map[string]float64, len(vectorMatches))
	for i, match := range vectorMatches {
		vectorRanks[match.Record.ID] = i + 1
		vectorScores[match.Record.ID] = match.Score
	}

	keywordRanks := make(map[string]int, len(keywordHits))
	keywordScores := make(map[string]float64, len(keywordHits))
	for i, hit := range keywordHits {
		keywordRanks[hit.ID] = i + 1
		keywordScores[hit.ID] = normalizeKeywordScore(hit.RawScore)
	}

	fused := FuseRRF(vectorRanks, keywordRanks, h.vectorWeight, h.keywordWeight, h.rrfK)
	if len(fused) == 0 {
		h.lastStats = HybridStatistics{VectorHits: len(vectorMatches), KeywordHits: len(keywordHits)}
		return nil, nil
	}

	records, err := h.repository.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*core.MemoryRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	results := make([]SearchResult, 0, topK)
	for _, entry := range fused {
		record, ok := byID[entry.ID]
		if !ok {
			continue
		}
		results = append(results, SearchResult{
			Record:       record,
			VectorScore:  vectorScores[entry.ID],
			KeywordScore: keywordScores[entry.ID],
			RRFScore:     entry.Score,
		})
		if len(results) == topK {
			break
		}
	}
	for i := range results {
		results[i].Rank = i + 1
	}

	h.lastStats = HybridStatistics{
		VectorHits:  len(vectorMatches),
		KeywordHits: len(keywordHits),
		Fused:       len(fused),
		Returned:    len(results),
	}
	return results, nil
}

// Statistics returns counters from the most recent Search call.
func (h *HybridRetriever) Statistics() HybridStatistics {
	return h.lastStats
}

// FusedEntry is one id with its reciprocal-rank-fusion score.
type FusedEntry struct {
	ID    string
	Score float64
}

// FuseRRF combines two 1-indexed rank maps with reciprocal rank
// fusion. A source that did not rank an id contributes 0. The result
// is sorted by score descending, ties broken by id ascending.
func FuseRRF(vectorRanks, keywordRanks map[string]int, vectorWeight, keywordWeight float64, k int) []FusedEntry {
	scores := make(map[string]float64, len(vectorRanks)+len(keywordRanks))
	for id, rank := range vectorRanks {
		scores[id] += vectorWeight / float64(k+rank)
	}
	for id, rank := range keywordRanks {
		scores[id] += keywordWeight / float64(k+rank)
	}

	fused := make([]FusedEntry, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, FusedEntry{ID: id, Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})
	return fused
}

// normalizeKeywordScore maps a raw keyword relevance to [0,1].
// Negative values are bm25-style ranks where more negative is better;
// non-negative values are clamped as-is.
func normalizeKeywordScore(raw float64) float64 {
	if raw < 0 {
		normalized := (raw - keywordScoreFloor) / -keywordScoreFloor
		// bm25 ranks: -20 (best) maps to 1, 0 (worst) to 0.
		normalized = 1 - normalized
		if normalized < 0 {
			return 0
		}
		if normalized > 1 {
			return 1
		}
		return normalized
	}
	if raw > 1 {
		return 1
	}
	return raw
}
