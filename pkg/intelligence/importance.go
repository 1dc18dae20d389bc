package intelligence

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
	"github.com/mnemo-labs/mnemo-go/pkg/storage"
)

// EntityLinkCounter reports how many entity-graph links reference a
// memory. Implemented outside this package; a nil counter means zero
// links for every record.
type EntityLinkCounter interface {
	CountLinks(ctx context.Context, memoryID string) (int, error)
}

// ImportanceWeights holds the per-component weights of the importance
// score.
type ImportanceWeights struct {
	Frequency float64
	Recency   float64
	Success   float64
	Feedback  float64
	Entity    float64
}

// DefaultImportanceWeights returns the standard component weighting.
func DefaultImportanceWeights() ImportanceWeights {
	return ImportanceWeights{
		Frequency: 0.25,
		Recency:   0.25,
		Success:   0.20,
		Feedback:  0.15,
		Entity:    0.15,
	}
}

func (w ImportanceWeights) sum() float64 {
	return w.Frequency + w.Recency + w.Success + w.Feedback + w.Entity
}

// ImportanceScore is the component breakdown of a scored memory.
type ImportanceScore struct {
	MemoryID  string
	Frequency float64
	Recency   float64
	Success   float64
	Feedback  float64
	Entity    float64
	Total     float64
}

// importanceStore is the storage surface the scorer needs.
type importanceStore interface {
	Get(ctx context.Context, id string) (*core.MemoryRecord, error)
	ListIDs(ctx context.Context, category core.Category, limit int) ([]string, error)
}

var positiveTags = map[string]struct{}{
	"success": {}, "solved": {}, "completed": {}, "optimized": {}, "improved": {},
}

var negativeTags = map[string]struct{}{
	"failed": {}, "error": {}, "incomplete": {}, "blocked": {},
}

// ImportanceScorer ranks memories by a weighted blend of access
// frequency, recency, outcome signals, user feedback, and entity-graph
// connectivity.
type ImportanceScorer struct {
	store    importanceStore
	access   storage.AccessLogStore
	feedback storage.FeedbackStore
	links    EntityLinkCounter
	weights  ImportanceWeights

	// RecencyHalflifeDays controls how fast the recency component
	// decays; a memory untouched for one halflife scores 0.5.
	RecencyHalflifeDays float64
}

// NewImportanceScorer creates a scorer. The link counter may be nil.
func NewImportanceScorer(
	store importanceStore,
	access storage.AccessLogStore,
	feedback storage.FeedbackStore,
	links EntityLinkCounter,
	weights ImportanceWeights,
) *ImportanceScorer {
	if sum := weights.sum(); math.Abs(sum-1.0) > 0.01 {
		log.Printf("importance: weights sum to %.3f, not 1.0", sum)
	}
	return &ImportanceScorer{
		store:               store,
		access:              access,
		feedback:            feedback,
		links:               links,
		weights:             weights,
		RecencyHalflifeDays: 30,
	}
}

// RecordAccess logs one access to the memory.
func (s *ImportanceScorer) RecordAccess(ctx context.Context, memoryID string, at time.Time, accessType string) error {
	if strings.TrimSpace(accessType) == "" {
		accessType = "retrieval"
	}
	return s.access.RecordAccess(ctx, memoryID, at, accessType)
}

// RecordFeedback stores the current user rating for the memory. The
// rating must lie in [0,1].
func (s *ImportanceScorer) RecordFeedback(ctx context.Context, memoryID string, rating float64, comment string, at time.Time) error {
	if rating < 0 || rating > 1 {
		return core.NewMemoryError("RecordFeedback",
			fmt.Errorf("%w: rating %.3f outside [0,1]", core.ErrInvalidRating, rating))
	}
	return s.feedback.SaveFeedback(ctx, memoryID, rating, comment, at)
}

// CalculateImportance computes the weighted importance of one memory
// as of the given instant.
func (s *ImportanceScorer) CalculateImportance(ctx context.Context, memoryID string, now time.Time) (*ImportanceScore, error) {
	record, err := s.store.Get(ctx, memoryID)
	if err != nil {
		return nil, err
	}

	stats, err := s.access.AccessStats(ctx, memoryID)
	if err != nil {
		return nil, err
	}

	score := &ImportanceScore{MemoryID: memoryID}
	score.Frequency = frequencyScore(stats.Count)
	score.Recency = s.recencyScore(record, stats, now)
	score.Success = successScore(record)
	score.Feedback = s.feedbackScore(ctx, memoryID)
	score.Entity = s.entityScore(ctx, memoryID)

	score.Total = clamp01(s.weights.Frequency*score.Frequency +
		s.weights.Recency*score.Recency +
		s.weights.Success*score.Success +
		s.weights.Feedback*score.Feedback +
		s.weights.Entity*score.Entity)
	return score, nil
}

// GetTopMemories scores a bounded candidate window of limit*2 ids,
// optionally category-filtered, and returns the limit highest scorers.
func (s *ImportanceScorer) GetTopMemories(ctx context.Context, limit int, category core.Category) ([]*ImportanceScore, error) {
	if limit <= 0 {
		return nil, nil
	}

	ids, err := s.store.ListIDs(ctx, category, limit*2)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	scores := make([]*ImportanceScore, 0, len(ids))
	for _, id := range ids {
		score, err := s.CalculateImportance(ctx, id, now)
		if err != nil {
			log.Printf("importance: scoring %s failed: %v", id, err)
			continue
		}
		scores = append(scores, score)
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Total != scores[j].Total {
			return scores[i].Total > scores[j].Total
		}
		return scores[i].MemoryID < scores[j].MemoryID
	})
	if len(scores) > limit {
		scores = scores[:limit]
	}
	return scores, nil
}

// frequencyScore saturates around a hundred accesses.
func frequencyScore(count int) float64 {
	if count <= 0 {
		return 0
	}
	return clamp01(math.Log(1+float64(count)) / math.Log(101))
}

// recencyScore decays exponentially from the last access, or from
// creation when the memory was never accessed.
func (s *ImportanceScorer) recencyScore(record *core.MemoryRecord, stats storage.AccessStats, now time.Time) float64 {
	reference := record.CreatedAt
	if stats.Last != nil {
		reference = *stats.Last
	}
	if reference.IsZero() {
		return 0
	}
	ageDays := now.Sub(reference).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return clamp01(math.Pow(2, -ageDays/s.RecencyHalflifeDays))
}

func successScore(record *core.MemoryRecord) float64 {
	score := 0.5
	switch record.Category {
	case core.CategoryWorkflowOptimisation:
		score += 0.3
	case core.CategoryErrorSolution:
		score += 0.2
	}
	for _, tag := range record.Tags {
		lowered := strings.ToLower(tag)
		if _, ok := positiveTags[lowered]; ok {
			score += 0.1
		}
		if _, ok := negativeTags[lowered]; ok {
			score -= 0.15
		}
	}
	return clamp01(score)
}

func (s *ImportanceScorer) feedbackScore(ctx context.Context, memoryID string) float64 {
	rating, ok, err := s.feedback.FeedbackRating(ctx, memoryID)
	if err != nil || !ok {
		return 0.5
	}
	return clamp01(rating)
}

// entityScore saturates around ten entity links.
func (s *ImportanceScorer) entityScore(ctx context.Context, memoryID string) float64 {
	if s.links == nil {
		return 0
	}
	count, err := s.links.CountLinks(ctx, memoryID)
	if err != nil || count <= 0 {
		return 0
	}
	return clamp01(math.Log(1+float64(count)) / math.Log(11))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
