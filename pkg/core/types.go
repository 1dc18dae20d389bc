// Package core defines the shared data model of the memory engine.
package core

import (
	"strings"
	"time"
)

// Category is the high-level grouping for stored experiences.
//
// The set of categories is closed: the curator rejects anything the
// enum does not name, and stored records always carry a valid value.
type Category string

const (
	// CategoryFullExperience is a complete end-to-end task record.
	CategoryFullExperience Category = "full_experience"

	// CategoryErrorSolution records a failure and how it was resolved.
	CategoryErrorSolution Category = "error_solution"

	// CategoryToolUsage records how a tool was invoked and what it returned.
	CategoryToolUsage Category = "tool_usage"

	// CategoryUserPattern records a recurring user habit or preference.
	CategoryUserPattern Category = "user_pattern"

	// CategoryWorkflowOptimisation records a discovered shortcut or
	// improvement over a previous workflow.
	CategoryWorkflowOptimisation Category = "workflow_optimisation"
)

// Categories lists every valid category value.
var Categories = []Category{
	CategoryFullExperience,
	CategoryErrorSolution,
	CategoryToolUsage,
	CategoryUserPattern,
	CategoryWorkflowOptimisation,
}

// IsValid reports whether c is one of the recognized category values.
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory converts a raw string into a Category.
//
// Surrounding whitespace is ignored. Returns ErrUnknownCategory when the
// value is not in the closed enum.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.TrimSpace(raw))
	if !c.IsValid() {
		return "", ErrUnknownCategory
	}
	return c, nil
}

// ToolInvocation is a single tool call observed during task execution.
type ToolInvocation struct {
	// Tool is the invoked tool's name.
	Tool string `json:"tool,omitempty"`

	// Description is the step description the tool call served.
	Description string `json:"description,omitempty"`

	// Outcome is the step outcome label (e.g. "success", "failed").
	Outcome string `json:"outcome,omitempty"`

	// ErrorReason holds the failure reason when the invocation failed.
	ErrorReason string `json:"error_reason,omitempty"`

	// Data carries tool-specific payload details.
	Data map[string]interface{} `json:"data,omitempty"`
}

// MemorySourceData is the raw, ephemeral capture payload produced by the
// orchestration layer before curation. It is treated as immutable input.
type MemorySourceData struct {
	// Goal is the task goal the agent pursued.
	Goal string `json:"goal"`

	// UserRequest is the user's original request text.
	UserRequest string `json:"user_request"`

	// PlanChecklist is the rendered plan checklist text.
	PlanChecklist string `json:"plan_checklist"`

	// ScratchpadDigest is a digest of the working scratchpad.
	ScratchpadDigest string `json:"scratchpad_digest"`

	// ToolInvocations lists tool calls in execution order.
	ToolInvocations []ToolInvocation `json:"tool_invocations,omitempty"`

	// FailureLog is the accumulated failure log text.
	FailureLog string `json:"failure_log,omitempty"`

	// FinalResponse is the final response draft; empty means no final
	// response was produced.
	FinalResponse string `json:"final_response,omitempty"`

	// Metadata carries free-form context supplied by the caller.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// HasToolFailure reports whether the source records any tool failure,
// either through a non-empty failure log or an invocation carrying a
// non-empty error reason.
func (s *MemorySourceData) HasToolFailure() bool {
	if log := strings.TrimSpace(s.FailureLog); log != "" && log != "(no failures yet)" {
		return true
	}
	for _, inv := range s.ToolInvocations {
		if strings.TrimSpace(inv.ErrorReason) != "" {
			return true
		}
	}
	return false
}

// RetentionDecision is the outcome of evaluating a capture payload
// against the retention policy. It is produced once per capture attempt
// and never persisted standalone.
type RetentionDecision struct {
	// ShouldStore indicates whether the experience is worth persisting.
	ShouldStore bool `json:"should_store"`

	// Reason is a human-readable explanation of the decision.
	Reason string `json:"reason"`
}

// MemoryRecord is the persisted unit of long-term memory.
//
// The external ID is assigned once at first write and never reassigned.
// Once an embedding is set its length equals the configured provider
// dimension. Records may be mutated in place by the deduplicator's merge
// before first persistence; afterwards only via explicit store upserts.
// Records are never deleted by this engine.
type MemoryRecord struct {
	// ID is the stable external identifier, unique across the store.
	// Empty until the repository assigns one on first write.
	ID string `json:"id"`

	// Summary is the curated description of the experience.
	Summary string `json:"summary"`

	// Goal is the task goal, copied from the source payload.
	Goal string `json:"goal"`

	// UserIntent is what the user actually wanted.
	UserIntent string `json:"user_intent"`

	// Outcome describes how the task ended.
	Outcome string `json:"outcome"`

	// Category is the experience grouping; always a valid enum value.
	Category Category `json:"category"`

	// ToolsUsed lists the tools involved, ordered but deduplicated.
	ToolsUsed []string `json:"tools_used,omitempty"`

	// Tags is the curated tag set.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is the record creation timestamp.
	CreatedAt time.Time `json:"created_at"`

	// SourceMetadata holds free-form provenance: retention reason and
	// timestamp, merge history, and caller-supplied context.
	SourceMetadata map[string]interface{} `json:"source_metadata,omitempty"`

	// Embedding is the semantic fingerprint; nil when the record was
	// persisted in store-only mode.
	Embedding []float64 `json:"embedding,omitempty"`
}

// EnsureMetadata returns the record's metadata map, allocating it first
// if the record was built without one.
func (r *MemoryRecord) EnsureMetadata() map[string]interface{} {
	if r.SourceMetadata == nil {
		r.SourceMetadata = make(map[string]interface{})
	}
	return r.SourceMetadata
}

// EmbeddingText returns the text embedded for this record: the non-empty
// newline join of summary, goal, and user intent.
func (r *MemoryRecord) EmbeddingText() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.Summary, r.Goal, r.UserIntent} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}
