package intelligence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
)

const validCuratorJSON = `{
	"summary": "User planned the week with the calendar tool",
	"user_intent": "organize the week",
	"outcome": "plan created",
	"category": "tool_usage",
	"tools_used": ["calendar"],
	"tags": ["planning", "calendar"]
}`

func testSource() *core.MemorySourceData {
	return &core.MemorySourceData{
		Goal:          "plan the week",
		UserRequest:   "help me plan my week",
		FinalResponse: "Here is your plan.",
	}
}

func TestCurateBuildsRecord(t *testing.T) {
	curator := NewCurator(&fakeProvider{responses: []string{validCuratorJSON}})
	record, err := curator.Curate(context.Background(), testSource())
	require.NoError(t, err)

	assert.Equal(t, "User planned the week with the calendar tool", record.Summary)
	assert.Equal(t, "organize the week", record.UserIntent)
	assert.Equal(t, "plan created", record.Outcome)
	assert.Equal(t, core.CategoryToolUsage, record.Category)
	assert.Equal(t, []string{"calendar"}, record.ToolsUsed)
	assert.Equal(t, []string{"planning", "calendar"}, record.Tags)
	assert.Equal(t, "plan the week", record.Goal)
	assert.False(t, record.CreatedAt.IsZero())

	curatorMeta, ok := record.SourceMetadata["curator"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "tool_usage", curatorMeta["category"])
}

func TestCurateStripsCodeFence(t *testing.T) {
	fenced := "```json\n" + validCuratorJSON + "\n```"
	curator := NewCurator(&fakeProvider{responses: []string{fenced}})
	record, err := curator.Curate(context.Background(), testSource())
	require.NoError(t, err)
	assert.Equal(t, core.CategoryToolUsage, record.Category)
}

func TestCurateDefaults(t *testing.T) {
	response := `{"summary": "Planned the week", "category": "full_experience"}`
	curator := NewCurator(&fakeProvider{responses: []string{response}})
	record, err := curator.Curate(context.Background(), testSource())
	require.NoError(t, err)

	assert.Equal(t, "help me plan my week", record.UserIntent)
	assert.Equal(t, "unspecified", record.Outcome)
	assert.Empty(t, record.Tags)
}

func TestCurateMalformedJSON(t *testing.T) {
	curator := NewCurator(&fakeProvider{responses: []string{"not json at all"}})
	_, err := curator.Curate(context.Background(), testSource())
	assert.ErrorIs(t, err, core.ErrMalformedResponse)
}

func TestCurateNonObject(t *testing.T) {
	curator := NewCurator(&fakeProvider{responses: []string{`["a", "b"]`}})
	_, err := curator.Curate(context.Background(), testSource())
	assert.ErrorIs(t, err, core.ErrNotObject)
}

func TestCurateMissingSummary(t *testing.T) {
	curator := NewCurator(&fakeProvider{responses: []string{`{"summary": "  ", "category": "tool_usage"}`}})
	_, err := curator.Curate(context.Background(), testSource())
	assert.ErrorIs(t, err, core.ErrMissingSummary)
}

func TestCurateUnknownCategory(t *testing.T) {
	curator := NewCurator(&fakeProvider{responses: []string{`{"summary": "x", "category": "mystery"}`}})
	_, err := curator.Curate(context.Background(), testSource())
	assert.ErrorIs(t, err, core.ErrUnknownCategory)
}

func TestCurateProviderError(t *testing.T) {
	curator := NewCurator(&fakeProvider{err: assert.AnError})
	_, err := curator.Curate(context.Background(), testSource())
	assert.ErrorIs(t, err, core.ErrLLMOperation)
}
