package intelligence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
)

func failureSource() *core.MemorySourceData {
	return &core.MemorySourceData{
		Goal:          "plan the week",
		UserRequest:   "help me plan my week",
		FailureLog:    "calendar fetch failed once",
		FinalResponse: "Here is your plan.",
	}
}

func TestPipelineSkipsCurationWhenNotStoring(t *testing.T) {
	provider := &fakeProvider{responses: []string{validCuratorJSON}}
	pipeline := NewPipeline(NewRetentionPolicy(nil), NewCurator(provider), NewDeduplicator())

	result, err := pipeline.Run(context.Background(), &core.MemorySourceData{Goal: "g"}, nil)
	require.NoError(t, err)
	assert.Nil(t, result.Record)
	assert.False(t, result.Retention.ShouldStore)
	assert.Equal(t, 0, provider.calls)
}

func TestPipelineCuratesAndReturnsRecord(t *testing.T) {
	provider := &fakeProvider{responses: []string{validCuratorJSON}}
	pipeline := NewPipeline(NewRetentionPolicy(nil), NewCurator(provider), NewDeduplicator())

	result, err := pipeline.Run(context.Background(), failureSource(), nil)
	require.NoError(t, err)
	require.NotNil(t, result.Record)
	assert.True(t, result.Retention.ShouldStore)
	assert.Nil(t, result.DuplicateOf)
}

func TestPipelineMergesIntoDuplicate(t *testing.T) {
	provider := &fakeProvider{responses: []string{validCuratorJSON}}
	pipeline := NewPipeline(NewRetentionPolicy(nil), NewCurator(provider), NewDeduplicator())

	existing := []*core.MemoryRecord{{
		ID:         "m1",
		Goal:       "plan the week",
		UserIntent: "organize the week",
		Summary:    "User planned the week with the calendar tools",
		Tags:       []string{"planning"},
	}}

	result, err := pipeline.Run(context.Background(), failureSource(), existing)
	require.NoError(t, err)
	require.NotNil(t, result.DuplicateOf)
	assert.Equal(t, "m1", result.DuplicateOf.ID)
	assert.Equal(t, "m1", result.Record.ID, "merged record keeps the existing id")
}

func TestPipelineWithoutDeduplicator(t *testing.T) {
	provider := &fakeProvider{responses: []string{validCuratorJSON}}
	pipeline := NewPipeline(NewRetentionPolicy(nil), NewCurator(provider), nil)

	existing := []*core.MemoryRecord{{
		Goal:       "plan the week",
		UserIntent: "organize the week",
		Summary:    "User planned the week with the calendar tool",
	}}
	result, err := pipeline.Run(context.Background(), failureSource(), existing)
	require.NoError(t, err)
	assert.Nil(t, result.DuplicateOf)
}

func TestPipelinePropagatesCurationError(t *testing.T) {
	provider := &fakeProvider{responses: []string{"not json"}}
	pipeline := NewPipeline(NewRetentionPolicy(nil), NewCurator(provider), NewDeduplicator())

	_, err := pipeline.Run(context.Background(), failureSource(), nil)
	assert.ErrorIs(t, err, core.ErrMalformedResponse)
}

func TestPipelineScopesTimeoutPerStage(t *testing.T) {
	provider := &fakeProvider{
		responses: []string{"NO", validCuratorJSON},
		delay:     20 * time.Millisecond,
	}
	pipeline := NewPipeline(NewRetentionPolicy(provider), NewCurator(provider), nil,
		WithLLMTimeout(5*time.Second))

	source := failureSource()
	source.UserRequest = "help me plan my hobby schedule"

	result, err := pipeline.Run(context.Background(), source, nil)
	require.NoError(t, err)
	require.NotNil(t, result.Record)

	require.Equal(t, 2, provider.calls)
	assert.True(t, provider.deadlineSet[0])
	assert.True(t, provider.deadlineSet[1])
	assert.True(t, provider.deadlines[1].After(provider.deadlines[0]),
		"curation gets its own deadline instead of inheriting the retention one")
}

func TestPipelineWithoutTimeoutLeavesContextUnbounded(t *testing.T) {
	provider := &fakeProvider{responses: []string{validCuratorJSON}}
	pipeline := NewPipeline(NewRetentionPolicy(nil), NewCurator(provider), nil)

	_, err := pipeline.Run(context.Background(), failureSource(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, provider.calls)
	assert.False(t, provider.deadlineSet[0])
}
