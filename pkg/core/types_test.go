package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCategory(t *testing.T) {
	category, err := ParseCategory("error_solution")
	assert.NoError(t, err)
	assert.Equal(t, CategoryErrorSolution, category)

	category, err = ParseCategory("  tool_usage  ")
	assert.NoError(t, err)
	assert.Equal(t, CategoryToolUsage, category)

	_, err = ParseCategory("unknown")
	assert.ErrorIs(t, err, ErrUnknownCategory)

	_, err = ParseCategory("")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestCategoryIsValid(t *testing.T) {
	for _, category := range Categories {
		assert.True(t, category.IsValid(), "category %s", category)
	}
	assert.False(t, Category("nonsense").IsValid())
}

func TestHasToolFailure(t *testing.T) {
	source := &MemorySourceData{}
	assert.False(t, source.HasToolFailure())

	source.FailureLog = "(no failures yet)"
	assert.False(t, source.HasToolFailure())

	source.FailureLog = "timeout while fetching calendar"
	assert.True(t, source.HasToolFailure())

	source = &MemorySourceData{
		ToolInvocations: []ToolInvocation{
			{Tool: "search", Outcome: "ok"},
			{Tool: "calendar", ErrorReason: "auth expired"},
		},
	}
	assert.True(t, source.HasToolFailure())

	source.ToolInvocations[1].ErrorReason = "   "
	assert.False(t, source.HasToolFailure())
}

func TestEmbeddingText(t *testing.T) {
	record := &MemoryRecord{
		Summary:    "Planned the week",
		UserIntent: "organize schedule",
	}
	assert.Equal(t, "Planned the week\norganize schedule", record.EmbeddingText())

	record = &MemoryRecord{}
	assert.Equal(t, "", record.EmbeddingText())
}

func TestMemoryErrorWrapping(t *testing.T) {
	err := NewMemoryError("Save", ErrStorageOperation)
	assert.ErrorIs(t, err, ErrStorageOperation)
	assert.Contains(t, err.Error(), "Save")

	assert.Nil(t, NewMemoryError("Save", nil))
}
