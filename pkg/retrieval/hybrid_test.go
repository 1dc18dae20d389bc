package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
	"github.com/mnemo-labs/mnemo-go/pkg/storage"
)

type fakeRepo struct {
	matches []storage.Match
	records []*core.MemoryRecord
}

func (r *fakeRepo) Search(ctx context.Context, query string, topK int) ([]storage.Match, error) {
	if topK < len(r.matches) {
		return r.matches[:topK], nil
	}
	return r.matches, nil
}

func (r *fakeRepo) ListAll(ctx context.Context) ([]*core.MemoryRecord, error) {
	return r.records, nil
}

type fakeKeyword struct {
	hits []storage.KeywordHit
}

func (k *fakeKeyword) SearchKeyword(ctx context.Context, query string, limit int) ([]storage.KeywordHit, error) {
	if limit < len(k.hits) {
		return k.hits[:limit], nil
	}
	return k.hits, nil
}

func makeRecord(id string) *core.MemoryRecord {
	return &core.MemoryRecord{
		ID:        id,
		Summary:   "summary " + id,
		Category:  core.CategoryFullExperience,
		CreatedAt: time.Now().UTC(),
	}
}

func TestFuseRRFScenario(t *testing.T) {
	// m1 is vector rank 1 and keyword rank 3; m2 is vector rank 2 only.
	vectorRanks := map[string]int{"m1": 1, "m2": 2}
	keywordRanks := map[string]int{"m1": 3, "m3": 1, "m4": 2}

	fused := FuseRRF(vectorRanks, keywordRanks, 0.6, 0.4, 60)
	scores := make(map[string]float64, len(fused))
	for _, entry := range fused {
		scores[entry.ID] = entry.Score
	}

	assert.InDelta(t, 0.6/61+0.4/63, scores["m1"], 1e-9)
	assert.InDelta(t, 0.6/62, scores["m2"], 1e-9)
	assert.Equal(t, "m1", fused[0].ID)

	rankOf := func(id string) int {
		for i, entry := range fused {
			if entry.ID == id {
				return i
			}
		}
		return -1
	}
	assert.Less(t, rankOf("m1"), rankOf("m2"))
}

func TestFuseRRFDeterministicTieBreak(t *testing.T) {
	vectorRanks := map[string]int{"b": 1, "a": 1}
	fused := FuseRRF(vectorRanks, nil, 0.6, 0.4, 60)
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].ID)
	assert.Equal(t, "b", fused[1].ID)

	// Pure function of its inputs.
	for i := 0; i < 10; i++ {
		again := FuseRRF(vectorRanks, nil, 0.6, 0.4, 60)
		assert.Equal(t, fused, again)
	}
}

func TestHybridSearchJoinsRecords(t *testing.T) {
	m1 := makeRecord("m1")
	m2 := makeRecord("m2")
	repo := &fakeRepo{
		matches: []storage.Match{
			{Record: m1, Score: 0.9},
			{Record: m2, Score: 0.7},
		},
		records: []*core.MemoryRecord{m1, m2},
	}
	keyword := &fakeKeyword{hits: []storage.KeywordHit{{ID: "m2", RawScore: -10}}}

	retriever := NewHybridRetriever(repo, keyword)
	results, err := retriever.Search(context.Background(), "query", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// m2 appears in both lists so it fuses above m1.
	assert.Equal(t, "m2", results[0].Record.ID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, "m1", results[1].Record.ID)
	assert.Equal(t, 2, results[1].Rank)
	assert.InDelta(t, 0.7, results[0].VectorScore, 1e-9)
	assert.InDelta(t, 0.5, results[0].KeywordScore, 1e-9)

	stats := retriever.Statistics()
	assert.Equal(t, 2, stats.VectorHits)
	assert.Equal(t, 1, stats.KeywordHits)
	assert.Equal(t, 2, stats.Returned)
}

func TestHybridSearchDropsDanglingIDs(t *testing.T) {
	m1 := makeRecord("m1")
	ghost := makeRecord("ghost")
	repo := &fakeRepo{
		matches: []storage.Match{
			{Record: ghost, Score: 0.95},
			{Record: m1, Score: 0.9},
		},
		records: []*core.MemoryRecord{m1},
	}
	retriever := NewHybridRetriever(repo, &fakeKeyword{})
	results, err := retriever.Search(context.Background(), "query", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].Record.ID)
}

func TestHybridSearchEmptySources(t *testing.T) {
	retriever := NewHybridRetriever(&fakeRepo{}, &fakeKeyword{})
	results, err := retriever.Search(context.Background(), "query", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = retriever.Search(context.Background(), "query", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNormalizeKeywordScore(t *testing.T) {
	// bm25: more negative is better.
	assert.InDelta(t, 1.0, normalizeKeywordScore(-20), 1e-9)
	assert.InDelta(t, 0.0, normalizeKeywordScore(0), 1e-9)
	assert.InDelta(t, 0.5, normalizeKeywordScore(-10), 1e-9)
	assert.InDelta(t, 1.0, normalizeKeywordScore(-45), 1e-9)

	// Already-normalized positive relevance is clamped.
	assert.InDelta(t, 0.7, normalizeKeywordScore(0.7), 1e-9)
	assert.InDelta(t, 1.0, normalizeKeywordScore(3.5), 1e-9)
}
