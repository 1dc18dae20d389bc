package intelligence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
	"github.com/mnemo-labs/mnemo-go/pkg/storage"
)

type fakeImportanceStore struct {
	records map[string]*core.MemoryRecord
	order   []string
}

func newFakeImportanceStore(records ...*core.MemoryRecord) *fakeImportanceStore {
	s := &fakeImportanceStore{records: make(map[string]*core.MemoryRecord)}
	for _, record := range records {
		s.records[record.ID] = record
		s.order = append(s.order, record.ID)
	}
	return s
}

func (s *fakeImportanceStore) Get(ctx context.Context, id string) (*core.MemoryRecord, error) {
	record, ok := s.records[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return record, nil
}

func (s *fakeImportanceStore) ListIDs(ctx context.Context, category core.Category, limit int) ([]string, error) {
	var ids []string
	for _, id := range s.order {
		if category != "" && s.records[id].Category != category {
			continue
		}
		ids = append(ids, id)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

type fakeAccessLog struct {
	counts map[string]int
	last   map[string]time.Time
}

func newFakeAccessLog() *fakeAccessLog {
	return &fakeAccessLog{counts: make(map[string]int), last: make(map[string]time.Time)}
}

func (l *fakeAccessLog) RecordAccess(ctx context.Context, memoryID string, at time.Time, accessType string) error {
	l.counts[memoryID]++
	l.last[memoryID] = at
	return nil
}

func (l *fakeAccessLog) AccessStats(ctx context.Context, memoryID string) (storage.AccessStats, error) {
	stats := storage.AccessStats{Count: l.counts[memoryID]}
	if at, ok := l.last[memoryID]; ok {
		stats.Last = &at
	}
	return stats, nil
}

type fakeFeedback struct {
	ratings map[string]float64
}

func newFakeFeedback() *fakeFeedback {
	return &fakeFeedback{ratings: make(map[string]float64)}
}

func (f *fakeFeedback) SaveFeedback(ctx context.Context, memoryID string, rating float64, comment string, at time.Time) error {
	f.ratings[memoryID] = rating
	return nil
}

func (f *fakeFeedback) FeedbackRating(ctx context.Context, memoryID string) (float64, bool, error) {
	rating, ok := f.ratings[memoryID]
	return rating, ok, nil
}

type fakeLinkCounter struct {
	links map[string]int
}

func (c *fakeLinkCounter) CountLinks(ctx context.Context, memoryID string) (int, error) {
	return c.links[memoryID], nil
}

func newScorer(store *fakeImportanceStore, access *fakeAccessLog, feedback *fakeFeedback, links EntityLinkCounter) *ImportanceScorer {
	return NewImportanceScorer(store, access, feedback, links, DefaultImportanceWeights())
}

func TestRecordFeedbackValidatesRating(t *testing.T) {
	scorer := newScorer(newFakeImportanceStore(), newFakeAccessLog(), newFakeFeedback(), nil)
	now := time.Now()

	assert.NoError(t, scorer.RecordFeedback(context.Background(), "m1", 0.0, "", now))
	assert.NoError(t, scorer.RecordFeedback(context.Background(), "m1", 1.0, "", now))

	err := scorer.RecordFeedback(context.Background(), "m1", 1.1, "", now)
	assert.ErrorIs(t, err, core.ErrInvalidRating)
	err = scorer.RecordFeedback(context.Background(), "m1", -0.1, "", now)
	assert.ErrorIs(t, err, core.ErrInvalidRating)
}

func TestComponentsWithinUnitInterval(t *testing.T) {
	now := time.Now().UTC()
	record := &core.MemoryRecord{
		ID:        "m1",
		Category:  core.CategoryWorkflowOptimisation,
		Tags:      []string{"success", "solved", "completed", "optimized", "improved"},
		CreatedAt: now.Add(-time.Hour),
	}
	store := newFakeImportanceStore(record)
	access := newFakeAccessLog()
	feedback := newFakeFeedback()
	for i := 0; i < 500; i++ {
		require.NoError(t, access.RecordAccess(context.Background(), "m1", now, "retrieval"))
	}
	require.NoError(t, feedback.SaveFeedback(context.Background(), "m1", 1.0, "", now))

	scorer := newScorer(store, access, feedback, &fakeLinkCounter{links: map[string]int{"m1": 100}})
	score, err := scorer.CalculateImportance(context.Background(), "m1", now)
	require.NoError(t, err)

	for name, value := range map[string]float64{
		"frequency": score.Frequency,
		"recency":   score.Recency,
		"success":   score.Success,
		"feedback":  score.Feedback,
		"entity":    score.Entity,
		"total":     score.Total,
	} {
		assert.GreaterOrEqual(t, value, 0.0, name)
		assert.LessOrEqual(t, value, 1.0, name)
	}
}

func TestFrequencyScore(t *testing.T) {
	assert.Equal(t, 0.0, frequencyScore(0))
	assert.InDelta(t, 1.0, frequencyScore(100), 1e-9)
	assert.Less(t, frequencyScore(10), frequencyScore(100))
}

func TestRecencyHalflife(t *testing.T) {
	now := time.Now().UTC()
	record := &core.MemoryRecord{ID: "m1", Category: core.CategoryFullExperience, CreatedAt: now.AddDate(0, 0, -30)}
	scorer := newScorer(newFakeImportanceStore(record), newFakeAccessLog(), newFakeFeedback(), nil)

	score, err := scorer.CalculateImportance(context.Background(), "m1", now)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, score.Recency, 0.01)
}

func TestRecencyPrefersLastAccess(t *testing.T) {
	now := time.Now().UTC()
	record := &core.MemoryRecord{ID: "m1", Category: core.CategoryFullExperience, CreatedAt: now.AddDate(0, 0, -90)}
	access := newFakeAccessLog()
	require.NoError(t, access.RecordAccess(context.Background(), "m1", now, "retrieval"))

	scorer := newScorer(newFakeImportanceStore(record), access, newFakeFeedback(), nil)
	score, err := scorer.CalculateImportance(context.Background(), "m1", now)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score.Recency, 0.01)
}

func TestSuccessScore(t *testing.T) {
	assert.InDelta(t, 0.8, successScore(&core.MemoryRecord{Category: core.CategoryWorkflowOptimisation}), 1e-9)
	assert.InDelta(t, 0.7, successScore(&core.MemoryRecord{Category: core.CategoryErrorSolution}), 1e-9)
	assert.InDelta(t, 0.6, successScore(&core.MemoryRecord{
		Category: core.CategoryFullExperience,
		Tags:     []string{"success"},
	}), 1e-9)
	assert.InDelta(t, 0.35, successScore(&core.MemoryRecord{
		Category: core.CategoryFullExperience,
		Tags:     []string{"failed"},
	}), 1e-9)
}

func TestFeedbackDefaultsToNeutral(t *testing.T) {
	now := time.Now().UTC()
	record := &core.MemoryRecord{ID: "m1", Category: core.CategoryFullExperience, CreatedAt: now}
	scorer := newScorer(newFakeImportanceStore(record), newFakeAccessLog(), newFakeFeedback(), nil)

	score, err := scorer.CalculateImportance(context.Background(), "m1", now)
	require.NoError(t, err)
	assert.Equal(t, 0.5, score.Feedback)
}

func TestGetTopMemoriesSortsAndTruncates(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeImportanceStore(
		&core.MemoryRecord{ID: "m1", Category: core.CategoryFullExperience, CreatedAt: now},
		&core.MemoryRecord{ID: "m2", Category: core.CategoryWorkflowOptimisation, CreatedAt: now},
		&core.MemoryRecord{ID: "m3", Category: core.CategoryFullExperience, CreatedAt: now},
	)
	scorer := newScorer(store, newFakeAccessLog(), newFakeFeedback(), nil)

	top, err := scorer.GetTopMemories(context.Background(), 2, "")
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "m2", top[0].MemoryID, "workflow optimisation scores highest")
}

func TestGetTopMemoriesCategoryFilter(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeImportanceStore(
		&core.MemoryRecord{ID: "m1", Category: core.CategoryFullExperience, CreatedAt: now},
		&core.MemoryRecord{ID: "m2", Category: core.CategoryErrorSolution, CreatedAt: now},
	)
	scorer := newScorer(store, newFakeAccessLog(), newFakeFeedback(), nil)

	top, err := scorer.GetTopMemories(context.Background(), 5, core.CategoryErrorSolution)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "m2", top[0].MemoryID)
}
