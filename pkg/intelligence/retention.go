// Package intelligence implements the capture-side decision logic:
// the retention policy, the LLM curator, the deduplicator, the capture
// pipeline, and the importance scorer.
package intelligence

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
	"github.com/mnemo-labs/mnemo-go/pkg/llm"
)

const (
	reasonNoFinalResponse = "no final response"
	reasonPersonal        = "contains personal information"
	reasonResolvedFailure = "resolved failure"
	reasonNothingToKeep   = "no retention signal"

	piiPromptLimit = 500
)

// Patterns that identify unambiguous PII without consulting the LLM:
// email addresses, phone numbers, and national-id-like digit groups
// (US SSN, Korean resident registration number).
var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	regexp.MustCompile(`\+?\d{2,3}[-.\s]\d{3,4}[-.\s]\d{4}`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`\b\d{6}-\d{7}\b`),
}

// Keywords that justify spending an LLM call on PII classification.
var piiKeywords = []string{
	"name", "major", "schedule", "preference", "birthday", "address",
	"phone", "email", "contact", "hobby", "family",
}

const piiClassifyPrompt = `Does the following text contain personal information about a specific person (name, contact details, schedule, preferences, identifiers)?
Answer with exactly YES or NO.

Text:
%s`

// RetentionPolicy decides whether a capture is worth persisting.
type RetentionPolicy struct {
	provider             llm.Provider
	requireFinalResponse bool
}

// RetentionOption configures a RetentionPolicy.
type RetentionOption func(*RetentionPolicy)

// WithRequireFinalResponse controls whether captures without a final
// response are rejected outright. Enabled by default.
func WithRequireFinalResponse(require bool) RetentionOption {
	return func(p *RetentionPolicy) { p.requireFinalResponse = require }
}

// NewRetentionPolicy creates a retention policy. The LLM provider is
// optional; without it, PII detection relies on the pattern pre-filter
// alone.
func NewRetentionPolicy(provider llm.Provider, opts ...RetentionOption) *RetentionPolicy {
	p := &RetentionPolicy{
		provider:             provider,
		requireFinalResponse: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Evaluate applies the retention rules in order: missing final
// response rejects, personal information stores, a resolved tool
// failure stores, everything else is dropped.
func (p *RetentionPolicy) Evaluate(ctx context.Context, source *core.MemorySourceData) core.RetentionDecision {
	if p.requireFinalResponse && strings.TrimSpace(source.FinalResponse) == "" {
		return core.RetentionDecision{ShouldStore: false, Reason: reasonNoFinalResponse}
	}

	if p.containsPersonalInfo(ctx, source) {
		return core.RetentionDecision{ShouldStore: true, Reason: reasonPersonal}
	}

	if source.HasToolFailure() && strings.TrimSpace(source.FinalResponse) != "" {
		return core.RetentionDecision{ShouldStore: true, Reason: reasonResolvedFailure}
	}

	return core.RetentionDecision{ShouldStore: false, Reason: reasonNothingToKeep}
}

func (p *RetentionPolicy) containsPersonalInfo(ctx context.Context, source *core.MemorySourceData) bool {
	text := sourceText(source)
	if text == "" {
		return false
	}

	for _, pattern := range piiPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}

	if p.provider == nil || !containsPIIKeyword(text) {
		return false
	}

	answer, err := p.provider.Generate(ctx, fmt.Sprintf(piiClassifyPrompt, truncateRunes(text, piiPromptLimit)),
		llm.WithTemperature(0.0), llm.WithMaxTokens(5))
	if err != nil {
		return false
	}

	// Only the exact token counts. "YES." or "yes, because..." would
	// let a prompt-injected response through.
	return strings.EqualFold(strings.TrimSpace(answer), "YES")
}

// truncateRunes shortens s to at most n runes, so a multi-byte
// sequence is never split mid-rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func containsPIIKeyword(text string) bool {
	lowered := strings.ToLower(text)
	for _, keyword := range piiKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

func sourceText(source *core.MemorySourceData) string {
	parts := []string{
		source.Goal,
		source.UserRequest,
		source.ScratchpadDigest,
		source.FinalResponse,
	}
	var nonEmpty []string
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, "\n")
}
