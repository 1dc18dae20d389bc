package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
	"github.com/mnemo-labs/mnemo-go/pkg/llm"
	"github.com/mnemo-labs/mnemo-go/pkg/storage"
)

const (
	// DefaultMaxDepth bounds how many hops a cascaded search expands.
	DefaultMaxDepth = 3

	// DefaultCascadeTopK is the per-hop candidate count.
	DefaultCascadeTopK = 5

	// DefaultMinScore is the similarity floor for accepting a match.
	DefaultMinScore = 0.35

	// DefaultMaxNoNewResults stops the loop after this many
	// consecutive unproductive iterations.
	DefaultMaxNoNewResults = 2

	maxFollowUpQueries = 3

	fallbackReason = "score_above_threshold"
)

const filterPromptTemplate = `You are filtering retrieved memories for relevance.

Original user request: %s
Current search query: %s
Search depth: %d

Candidate memories (JSON):
%s

Decide which candidates genuinely help answer the original request, and
suggest up to 3 follow-up search queries that could surface related
memories. Respond with a single JSON object and nothing else:
{
  "keep": [{"id": "candidate id", "reason": "why it is relevant"}],
  "follow_up_queries": ["query"]
}`

// CascadedMatch is one accepted memory with its similarity score and
// the filter's reason for keeping it.
type CascadedMatch struct {
	Record *core.MemoryRecord
	Score  float64
	Reason string
}

// IterationMetrics is the telemetry produced for one retrieval hop.
type IterationMetrics struct {
	Query           string
	Depth           int
	TotalCandidates int
	Kept            int
	FollowUpQueries []string
	DurationMS      float64
}

// CascadedResult aggregates matches and per-iteration telemetry.
type CascadedResult struct {
	Matches    []CascadedMatch
	Iterations []IterationMetrics
}

// semanticSearcher is the repository surface cascaded retrieval needs.
type semanticSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]storage.Match, error)
}

// CascadedRetriever expands a query into a bounded, LLM-guided
// breadth-first search over the memory repository.
type CascadedRetriever struct {
	provider        llm.Provider
	repository      semanticSearcher
	topK            int
	maxDepth        int
	minScore        float64
	maxNoNewResults int
	llmTimeout      time.Duration
}

// CascadedOption configures a CascadedRetriever.
type CascadedOption func(*CascadedRetriever)

// WithMaxDepth bounds the hop depth.
func WithMaxDepth(depth int) CascadedOption {
	return func(c *CascadedRetriever) { c.maxDepth = depth }
}

// WithTopK sets the per-hop candidate count.
func WithTopK(topK int) CascadedOption {
	return func(c *CascadedRetriever) {
		if topK >= 1 {
			c.topK = topK
		}
	}
}

// WithMinScore sets the similarity floor for accepting matches.
func WithMinScore(minScore float64) CascadedOption {
	return func(c *CascadedRetriever) { c.minScore = minScore }
}

// WithMaxNoNewResults sets the unproductive-iteration stop threshold.
func WithMaxNoNewResults(n int) CascadedOption {
	return func(c *CascadedRetriever) { c.maxNoNewResults = n }
}

// WithLLMTimeout bounds each filter call with its own deadline. Zero
// leaves the caller's context in charge.
func WithLLMTimeout(timeout time.Duration) CascadedOption {
	return func(c *CascadedRetriever) { c.llmTimeout = timeout }
}

// NewCascadedRetriever creates a cascaded retriever over the given
// provider and repository.
func NewCascadedRetriever(provider llm.Provider, repository semanticSearcher, opts ...CascadedOption) *CascadedRetriever {
	c := &CascadedRetriever{
		provider:        provider,
		repository:      repository,
		topK:            DefaultCascadeTopK,
		maxDepth:        DefaultMaxDepth,
		minScore:        DefaultMinScore,
		maxNoNewResults: DefaultMaxNoNewResults,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type pendingQuery struct {
	query string
	depth int
}

// Retrieve runs the breadth-first expansion seeded with the user's
// request. It terminates when the worklist drains, the depth bound
// prunes every branch, or too many consecutive iterations produce no
// new matches.
func (c *CascadedRetriever) Retrieve(ctx context.Context, userRequest string) (*CascadedResult, error) {
	pending := []pendingQuery{{query: userRequest, depth: 0}}
	visited := make(map[string]struct{})
	seenIDs := make(map[string]struct{})
	result := &CascadedResult{}
	noNewResults := 0

	for len(pending) > 0 {
		entry := pending[0]
		pending = pending[1:]

		query := strings.TrimSpace(entry.query)
		if query == "" {
			continue
		}
		key := strings.ToLower(query)
		if _, ok := visited[key]; ok {
			continue
		}
		visited[key] = struct{}{}

		if entry.depth >= c.maxDepth {
			continue
		}

		start := time.Now()
		candidates, err := c.repository.Search(ctx, query, c.topK)
		if err != nil {
			return nil, err
		}
		metrics := IterationMetrics{
			Query:           query,
			Depth:           entry.depth,
			TotalCandidates: len(candidates),
			DurationMS:      float64(time.Since(start).Microseconds()) / 1000,
		}

		if len(candidates) == 0 {
			result.Iterations = append(result.Iterations, metrics)
			noNewResults++
			if noNewResults >= c.maxNoNewResults {
				break
			}
			continue
		}

		kept, followUps := c.filterCandidates(ctx, userRequest, query, entry.depth, candidates)

		newMatches := 0
		for _, candidate := range kept {
			id := candidate.Record.ID
			if id == "" {
				continue
			}
			if _, ok := seenIDs[id]; ok {
				continue
			}
			if candidate.Score < c.minScore {
				continue
			}
			result.Matches = append(result.Matches, candidate)
			seenIDs[id] = struct{}{}
			newMatches++
		}

		metrics.Kept = newMatches
		metrics.FollowUpQueries = followUps
		result.Iterations = append(result.Iterations, metrics)

		if newMatches == 0 {
			noNewResults++
		} else {
			noNewResults = 0
		}
		if noNewResults >= c.maxNoNewResults {
			break
		}

		for _, followUp := range followUps {
			trimmed := strings.TrimSpace(followUp)
			if trimmed == "" {
				continue
			}
			if _, ok := visited[strings.ToLower(trimmed)]; ok {
				continue
			}
			pending = append(pending, pendingQuery{query: trimmed, depth: entry.depth + 1})
		}
	}

	return result, nil
}

type filterResponse struct {
	Keep []struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	} `json:"keep"`
	FollowUpQueries []string `json:"follow_up_queries"`
}

// filterCandidates asks the LLM which candidates to keep. On a service
// error, malformed output, or an empty validated keep list it falls
// back to the deterministic score threshold with no follow-ups.
func (c *CascadedRetriever) filterCandidates(
	ctx context.Context,
	userRequest, query string,
	depth int,
	candidates []storage.Match,
) ([]CascadedMatch, []string) {
	prompt, err := renderFilterPrompt(userRequest, query, depth, candidates)
	if err != nil {
		log.Printf("cascaded: rendering filter prompt failed, using score threshold: %v", err)
		return c.fallbackFilter(candidates), nil
	}

	callCtx := ctx
	if c.llmTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.llmTimeout)
		defer cancel()
	}
	response, err := c.provider.Generate(callCtx, prompt,
		llm.WithTemperature(0.1), llm.WithMaxTokens(800))
	if err != nil {
		log.Printf("cascaded: filter call failed, using score threshold: %v", err)
		return c.fallbackFilter(candidates), nil
	}

	var parsed filterResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &parsed); err != nil {
		log.Printf("cascaded: filter returned malformed JSON, using score threshold: %v", err)
		return c.fallbackFilter(candidates), nil
	}

	byID := make(map[string]storage.Match, len(candidates))
	for _, candidate := range candidates {
		byID[candidate.Record.ID] = candidate
	}

	var kept []CascadedMatch
	for _, entry := range parsed.Keep {
		id := strings.TrimSpace(entry.ID)
		candidate, ok := byID[id]
		if !ok {
			continue
		}
		kept = append(kept, CascadedMatch{
			Record: candidate.Record,
			Score:  candidate.Score,
			Reason: strings.TrimSpace(entry.Reason),
		})
	}
	if len(kept) == 0 {
		kept = c.fallbackFilter(candidates)
	}

	var followUps []string
	seen := make(map[string]struct{})
	for _, raw := range parsed.FollowUpQueries {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[strings.ToLower(trimmed)]; ok {
			continue
		}
		seen[strings.ToLower(trimmed)] = struct{}{}
		followUps = append(followUps, trimmed)
		if len(followUps) == maxFollowUpQueries {
			break
		}
	}

	return kept, followUps
}

func (c *CascadedRetriever) fallbackFilter(candidates []storage.Match) []CascadedMatch {
	var kept []CascadedMatch
	for _, candidate := range candidates {
		if candidate.Score >= c.minScore {
			kept = append(kept, CascadedMatch{
				Record: candidate.Record,
				Score:  candidate.Score,
				Reason: fallbackReason,
			})
		}
	}
	return kept
}

func renderFilterPrompt(userRequest, query string, depth int, candidates []storage.Match) (string, error) {
	type candidatePayload struct {
		ID         string   `json:"id"`
		Summary    string   `json:"summary"`
		UserIntent string   `json:"user_intent"`
		Outcome    string   `json:"outcome"`
		Tags       []string `json:"tags"`
		Score      float64  `json:"score"`
	}

	payload := make([]candidatePayload, 0, len(candidates))
	for _, candidate := range candidates {
		payload = append(payload, candidatePayload{
			ID:         candidate.Record.ID,
			Summary:    candidate.Record.Summary,
			UserIntent: candidate.Record.UserIntent,
			Outcome:    candidate.Record.Outcome,
			Tags:       candidate.Record.Tags,
			Score:      candidate.Score,
		})
	}

	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(filterPromptTemplate, userRequest, query, depth, string(raw)), nil
}
