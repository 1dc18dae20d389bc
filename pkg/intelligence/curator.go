package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
	"github.com/mnemo-labs/mnemo-go/pkg/llm"
)

const curatorMaxOutputTokens = 4096

const curatorPromptTemplate = `You are a memory curator for a personal assistant. Summarise the
completed task below into a structured memory record.

Goal: %s
User request: %s
Plan checklist:
%s
Scratchpad digest:
%s
Tool history (JSON):
%s
Failure log:
%s
Final response:
%s

Respond with a single JSON object and nothing else:
{
  "summary": "one or two sentences describing what happened",
  "user_intent": "what the user actually wanted",
  "outcome": "how it ended",
  "category": "one of: full_experience, error_solution, tool_usage, user_pattern, workflow_optimisation",
  "tools_used": ["tool names"],
  "tags": ["short lowercase tags"]
}`

// Curator turns raw execution data into a structured MemoryRecord via
// an LLM structured-output call.
type Curator struct {
	provider llm.Provider
}

// NewCurator creates a curator over the given provider.
func NewCurator(provider llm.Provider) *Curator {
	return &Curator{provider: provider}
}

type curatorPayload struct {
	Summary    string   `json:"summary"`
	UserIntent string   `json:"user_intent"`
	Outcome    string   `json:"outcome"`
	Category   string   `json:"category"`
	ToolsUsed  []string `json:"tools_used"`
	Tags       []string `json:"tags"`
}

// Curate asks the LLM to summarise the source and parses the result
// into a record. Each parse failure mode maps to its own error kind so
// callers can tell malformed JSON from a missing summary or an unknown
// category.
func (c *Curator) Curate(ctx context.Context, source *core.MemorySourceData) (*core.MemoryRecord, error) {
	prompt, err := c.renderPrompt(source)
	if err != nil {
		return nil, core.NewMemoryError("Curate", err)
	}

	response, err := c.provider.Generate(ctx, prompt,
		llm.WithTemperature(0.2), llm.WithMaxTokens(curatorMaxOutputTokens))
	if err != nil {
		return nil, core.NewMemoryError("Curate", fmt.Errorf("%w: %v", core.ErrLLMOperation, err))
	}

	payload, err := parseCuratorResponse(response)
	if err != nil {
		return nil, core.NewMemoryError("Curate", err)
	}

	return c.buildRecord(payload, source)
}

func (c *Curator) renderPrompt(source *core.MemorySourceData) (string, error) {
	toolHistory := "[]"
	if len(source.ToolInvocations) > 0 {
		raw, err := json.MarshalIndent(source.ToolInvocations, "", "  ")
		if err != nil {
			return "", err
		}
		toolHistory = string(raw)
	}
	return fmt.Sprintf(curatorPromptTemplate,
		source.Goal,
		source.UserRequest,
		orPlaceholder(source.PlanChecklist),
		orPlaceholder(source.ScratchpadDigest),
		toolHistory,
		orPlaceholder(source.FailureLog),
		orPlaceholder(source.FinalResponse),
	), nil
}

func parseCuratorResponse(response string) (*curatorPayload, error) {
	cleaned := stripCodeFence(response)

	var probe interface{}
	if err := json.Unmarshal([]byte(cleaned), &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)
	}
	if _, ok := probe.(map[string]interface{}); !ok {
		return nil, core.ErrNotObject
	}

	var payload curatorPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)
	}
	if strings.TrimSpace(payload.Summary) == "" {
		return nil, core.ErrMissingSummary
	}
	return &payload, nil
}

func (c *Curator) buildRecord(payload *curatorPayload, source *core.MemorySourceData) (*core.MemoryRecord, error) {
	category, err := core.ParseCategory(payload.Category)
	if err != nil {
		return nil, core.NewMemoryError("Curate", err)
	}

	userIntent := strings.TrimSpace(payload.UserIntent)
	if userIntent == "" {
		userIntent = source.UserRequest
	}
	outcome := strings.TrimSpace(payload.Outcome)
	if outcome == "" {
		outcome = "unspecified"
	}

	tags := trimNonEmpty(payload.Tags)
	tools := trimNonEmpty(payload.ToolsUsed)

	metadata := make(map[string]interface{}, len(source.Metadata)+1)
	for k, v := range source.Metadata {
		metadata[k] = v
	}
	metadata["curator"] = map[string]interface{}{
		"category": string(category),
		"tags":     tags,
	}

	return &core.MemoryRecord{
		Summary:        strings.TrimSpace(payload.Summary),
		Goal:           source.Goal,
		UserIntent:     userIntent,
		Outcome:        outcome,
		Category:       category,
		ToolsUsed:      tools,
		Tags:           tags,
		CreatedAt:      time.Now().UTC(),
		SourceMetadata: metadata,
	}, nil
}

// stripCodeFence removes a surrounding markdown code fence, with or
// without a language tag.
func stripCodeFence(response string) string {
	cleaned := strings.TrimSpace(response)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	lines := strings.Split(cleaned, "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func trimNonEmpty(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func orPlaceholder(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(none)"
	}
	return value
}
