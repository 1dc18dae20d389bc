package intelligence

import (
	"context"
	"time"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
)

// PipelineResult aggregates the outcome of one capture pipeline run.
type PipelineResult struct {
	// Record is the curated (possibly merged) record, nil when
	// retention rejected the capture.
	Record *core.MemoryRecord

	// Retention is the policy decision that was applied.
	Retention core.RetentionDecision

	// DuplicateOf is the existing record the capture was merged into,
	// nil when no duplicate was found.
	DuplicateOf *core.MemoryRecord
}

// Pipeline chains retention, curation, and deduplication for the
// capture write path.
type Pipeline struct {
	policy       *RetentionPolicy
	curator      *Curator
	deduplicator *Deduplicator
	llmTimeout   time.Duration
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLLMTimeout bounds each model-backed stage (retention and
// curation) with its own deadline. Zero disables the bound and the
// caller's context governs alone.
func WithLLMTimeout(timeout time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.llmTimeout = timeout
	}
}

// NewPipeline creates a capture pipeline. The deduplicator is
// optional; without it, duplicate detection is skipped.
func NewPipeline(policy *RetentionPolicy, curator *Curator, deduplicator *Deduplicator, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		policy:       policy,
		curator:      curator,
		deduplicator: deduplicator,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run evaluates retention, curates a record when retention says store,
// and merges into a duplicate among the supplied existing records if
// one is found.
func (p *Pipeline) Run(ctx context.Context, source *core.MemorySourceData, existing []*core.MemoryRecord) (*PipelineResult, error) {
	evalCtx, cancel := p.stageContext(ctx)
	decision := p.policy.Evaluate(evalCtx, source)
	cancel()
	if !decision.ShouldStore {
		return &PipelineResult{Retention: decision}, nil
	}

	curateCtx, cancel := p.stageContext(ctx)
	record, err := p.curator.Curate(curateCtx, source)
	cancel()
	if err != nil {
		return nil, err
	}

	result := &PipelineResult{Record: record, Retention: decision}
	if p.deduplicator != nil && len(existing) > 0 {
		if duplicate := p.deduplicator.FindDuplicate(record, existing); duplicate != nil {
			result.Record = p.deduplicator.Merge(duplicate, record)
			result.DuplicateOf = duplicate
		}
	}
	return result, nil
}

// stageContext derives a deadline-bound context for one model-backed
// stage, so a slow retention check cannot eat the curator's budget.
func (p *Pipeline) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.llmTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.llmTimeout)
}
