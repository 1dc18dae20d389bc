package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-labs/mnemo-go/pkg/llm"
	"github.com/mnemo-labs/mnemo-go/pkg/storage"
)

type queryRepo struct {
	results map[string][]storage.Match
	queries []string
}

func (r *queryRepo) Search(ctx context.Context, query string, topK int) ([]storage.Match, error) {
	r.queries = append(r.queries, query)
	return r.results[strings.ToLower(query)], nil
}

type scriptedProvider struct {
	responses   []string
	err         error
	calls       int
	deadlineSet []bool
}

func (p *scriptedProvider) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	p.calls++
	_, ok := ctx.Deadline()
	p.deadlineSet = append(p.deadlineSet, ok)
	if p.err != nil {
		return "", p.err
	}
	if len(p.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	response := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return response, nil
}

func (p *scriptedProvider) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	return p.Generate(ctx, "")
}

func (p *scriptedProvider) Close() error { return nil }

func TestCascadedEmptySeedTerminates(t *testing.T) {
	// The seed query matches nothing and produces no follow-ups, so
	// the worklist drains after the first iteration.
	repo := &queryRepo{results: map[string][]storage.Match{}}
	provider := &scriptedProvider{}
	retriever := NewCascadedRetriever(provider, repo, WithMaxDepth(1))

	result, err := retriever.Retrieve(context.Background(), "find my plans")
	require.NoError(t, err)
	assert.Empty(t, result.Matches)
	require.Len(t, result.Iterations, 1)
	assert.Equal(t, "find my plans", result.Iterations[0].Query)
	assert.Equal(t, 0, result.Iterations[0].TotalCandidates)
	assert.Equal(t, 0, provider.calls, "no candidates means no filter call")
}

func TestCascadedKeepsFilteredCandidates(t *testing.T) {
	m1 := makeRecord("m1")
	repo := &queryRepo{results: map[string][]storage.Match{
		"find my plans": {{Record: m1, Score: 0.8}},
	}}
	provider := &scriptedProvider{responses: []string{
		`{"keep": [{"id": "m1", "reason": "matches the planning goal"}], "follow_up_queries": []}`,
	}}
	retriever := NewCascadedRetriever(provider, repo)

	result, err := retriever.Retrieve(context.Background(), "find my plans")
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "m1", result.Matches[0].Record.ID)
	assert.Equal(t, "matches the planning goal", result.Matches[0].Reason)
	assert.InDelta(t, 0.8, result.Matches[0].Score, 1e-9)
}

func TestCascadedFilterCallCarriesDeadline(t *testing.T) {
	m1 := makeRecord("m1")
	repo := &queryRepo{results: map[string][]storage.Match{
		"find my plans": {{Record: m1, Score: 0.8}},
	}}
	provider := &scriptedProvider{responses: []string{
		`{"keep": [{"id": "m1", "reason": "relevant"}], "follow_up_queries": []}`,
	}}
	retriever := NewCascadedRetriever(provider, repo, WithLLMTimeout(5*time.Second))

	_, err := retriever.Retrieve(context.Background(), "find my plans")
	require.NoError(t, err)
	require.Equal(t, 1, provider.calls)
	assert.True(t, provider.deadlineSet[0])
}

func TestCascadedFollowUpsExpandOnce(t *testing.T) {
	m1 := makeRecord("m1")
	m2 := makeRecord("m2")
	repo := &queryRepo{results: map[string][]storage.Match{
		"find my plans":  {{Record: m1, Score: 0.8}},
		"weekly routine": {{Record: m2, Score: 0.7}},
	}}
	provider := &scriptedProvider{responses: []string{
		// The seed's filter suggests a follow-up plus the seed itself.
		`{"keep": [{"id": "m1", "reason": "relevant"}], "follow_up_queries": ["weekly routine", "Find My Plans"]}`,
		`{"keep": [{"id": "m2", "reason": "relevant"}], "follow_up_queries": []}`,
	}}
	retriever := NewCascadedRetriever(provider, repo)

	result, err := retriever.Retrieve(context.Background(), "find my plans")
	require.NoError(t, err)
	assert.Len(t, result.Matches, 2)
	assert.Len(t, result.Iterations, 2)
	// The re-suggested seed was already visited and never re-searched.
	assert.Equal(t, []string{"find my plans", "weekly routine"}, repo.queries)
}

func TestCascadedMaxDepthPrunes(t *testing.T) {
	m1 := makeRecord("m1")
	repo := &queryRepo{results: map[string][]storage.Match{
		"seed": {{Record: m1, Score: 0.8}},
		"hop1": {{Record: makeRecord("m2"), Score: 0.8}},
	}}
	provider := &scriptedProvider{responses: []string{
		`{"keep": [{"id": "m1", "reason": "r"}], "follow_up_queries": ["hop1"]}`,
	}}
	retriever := NewCascadedRetriever(provider, repo, WithMaxDepth(1))

	result, err := retriever.Retrieve(context.Background(), "seed")
	require.NoError(t, err)
	// hop1 sits at depth 1 == max_depth, so it was pruned before search.
	assert.Equal(t, []string{"seed"}, repo.queries)
	assert.Len(t, result.Matches, 1)
}

func TestCascadedFallbackOnMalformedFilter(t *testing.T) {
	strong := makeRecord("m1")
	weak := makeRecord("m2")
	repo := &queryRepo{results: map[string][]storage.Match{
		"seed": {
			{Record: strong, Score: 0.8},
			{Record: weak, Score: 0.2},
		},
	}}
	provider := &scriptedProvider{responses: []string{"not json"}}
	retriever := NewCascadedRetriever(provider, repo)

	result, err := retriever.Retrieve(context.Background(), "seed")
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "m1", result.Matches[0].Record.ID)
	assert.Equal(t, "score_above_threshold", result.Matches[0].Reason)
	assert.Empty(t, result.Iterations[0].FollowUpQueries, "fallback produces no follow-ups")
}

func TestCascadedFallbackOnServiceError(t *testing.T) {
	repo := &queryRepo{results: map[string][]storage.Match{
		"seed": {{Record: makeRecord("m1"), Score: 0.5}},
	}}
	provider := &scriptedProvider{err: errors.New("service down")}
	retriever := NewCascadedRetriever(provider, repo)

	result, err := retriever.Retrieve(context.Background(), "seed")
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "score_above_threshold", result.Matches[0].Reason)
}

func TestCascadedIgnoresUnknownKeepIDs(t *testing.T) {
	repo := &queryRepo{results: map[string][]storage.Match{
		"seed": {{Record: makeRecord("m1"), Score: 0.8}},
	}}
	// Filter hallucinates an id outside the candidate set; validation
	// drops it and the fallback keeps the real candidate instead.
	provider := &scriptedProvider{responses: []string{
		`{"keep": [{"id": "bogus", "reason": "made up"}], "follow_up_queries": []}`,
	}}
	retriever := NewCascadedRetriever(provider, repo)

	result, err := retriever.Retrieve(context.Background(), "seed")
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "m1", result.Matches[0].Record.ID)
	assert.Equal(t, "score_above_threshold", result.Matches[0].Reason)
}

func TestCascadedMinScoreRejectsKeptCandidate(t *testing.T) {
	repo := &queryRepo{results: map[string][]storage.Match{
		"seed": {{Record: makeRecord("m1"), Score: 0.1}},
	}}
	provider := &scriptedProvider{responses: []string{
		`{"keep": [{"id": "m1", "reason": "filter liked it anyway"}], "follow_up_queries": []}`,
	}}
	retriever := NewCascadedRetriever(provider, repo)

	result, err := retriever.Retrieve(context.Background(), "seed")
	require.NoError(t, err)
	assert.Empty(t, result.Matches, "low scores are rejected even when the filter keeps them")
	assert.Equal(t, 0, result.Iterations[0].Kept)
}

func TestCascadedStopsAfterUnproductiveIterations(t *testing.T) {
	m1 := makeRecord("m1")
	repo := &queryRepo{results: map[string][]storage.Match{
		"seed": {{Record: m1, Score: 0.8}},
		"q1":   {{Record: m1, Score: 0.8}},
		"q2":   {{Record: m1, Score: 0.8}},
		"q3":   {{Record: m1, Score: 0.8}},
	}}
	// Every hop returns the same record, so after the seed every
	// iteration yields zero new matches.
	provider := &scriptedProvider{responses: []string{
		`{"keep": [{"id": "m1", "reason": "r"}], "follow_up_queries": ["q1", "q2", "q3"]}`,
		`{"keep": [{"id": "m1", "reason": "r"}], "follow_up_queries": []}`,
		`{"keep": [{"id": "m1", "reason": "r"}], "follow_up_queries": []}`,
		`{"keep": [{"id": "m1", "reason": "r"}], "follow_up_queries": []}`,
	}}
	retriever := NewCascadedRetriever(provider, repo, WithMaxNoNewResults(2))

	result, err := retriever.Retrieve(context.Background(), "seed")
	require.NoError(t, err)
	assert.Len(t, result.Matches, 1)
	// seed + q1 + q2 hit the two-unproductive-iteration stop; q3 is
	// never searched.
	assert.Equal(t, []string{"seed", "q1", "q2"}, repo.queries)
}

func TestCascadedFollowUpCapAndDedup(t *testing.T) {
	repo := &queryRepo{results: map[string][]storage.Match{
		"seed": {{Record: makeRecord("m1"), Score: 0.8}},
	}}
	provider := &scriptedProvider{responses: []string{
		`{"keep": [{"id": "m1", "reason": "r"}], "follow_up_queries": ["a", "A", "b", "c", "d"]}`,
	}}
	retriever := NewCascadedRetriever(provider, repo)

	result, err := retriever.Retrieve(context.Background(), "seed")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, result.Iterations[0].FollowUpQueries)
	// "a" and "b" both come back empty, tripping the unproductive-iteration
	// stop before "c" is searched.
	assert.Equal(t, []string{"seed", "a", "b"}, repo.queries)
}
