package intelligence

import (
	"sort"
	"strings"
	"time"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
)

const (
	// DefaultSimilarityThreshold is the summary similarity above which
	// two records with equal goal and user intent are duplicates.
	DefaultSimilarityThreshold = 0.85

	// DefaultTagAssistedThreshold is the relaxed threshold applied
	// when the records also share at least one tag.
	DefaultTagAssistedThreshold = 0.75
)

// Deduplicator detects near-duplicate memory records and merges them.
type Deduplicator struct {
	similarityThreshold  float64
	tagAssistedThreshold float64
}

// NewDeduplicator creates a deduplicator with the default thresholds.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		similarityThreshold:  DefaultSimilarityThreshold,
		tagAssistedThreshold: DefaultTagAssistedThreshold,
	}
}

// FindDuplicate returns the first existing record that duplicates the
// candidate, or nil. Records are duplicates when goal and user intent
// match case-insensitively and the summaries are similar enough,
// with a relaxed bar when the records share a tag.
func (d *Deduplicator) FindDuplicate(candidate *core.MemoryRecord, existing []*core.MemoryRecord) *core.MemoryRecord {
	for _, other := range existing {
		if other == nil {
			continue
		}
		if !equalFold(candidate.Goal, other.Goal) || !equalFold(candidate.UserIntent, other.UserIntent) {
			continue
		}
		similarity := SequenceSimilarity(candidate.Summary, other.Summary)
		if similarity >= d.similarityThreshold {
			return other
		}
		if similarity >= d.tagAssistedThreshold && sharesTag(candidate.Tags, other.Tags) {
			return other
		}
	}
	return nil
}

// Merge folds other into base in place and returns base. The longer
// summary wins, other's outcome wins when non-empty, tools and tags
// become sorted unions, and the absorbed fields are appended to the
// merge history in base's metadata.
func (d *Deduplicator) Merge(base, other *core.MemoryRecord) *core.MemoryRecord {
	absorbed := map[string]interface{}{
		"merged_at": time.Now().UTC().Format(time.RFC3339),
		"summary":   other.Summary,
		"outcome":   other.Outcome,
		"tags":      append([]string(nil), other.Tags...),
	}

	if len(other.Summary) > len(base.Summary) {
		base.Summary = other.Summary
	}
	if strings.TrimSpace(other.Outcome) != "" {
		base.Outcome = other.Outcome
	}
	base.ToolsUsed = sortedUnion(base.ToolsUsed, other.ToolsUsed)
	base.Tags = sortedUnion(base.Tags, other.Tags)
	if len(base.Embedding) == 0 {
		base.Embedding = other.Embedding
	}

	metadata := base.EnsureMetadata()
	history, _ := metadata["merge_history"].([]interface{})
	metadata["merge_history"] = append(history, absorbed)
	metadata["last_merged_at"] = absorbed["merged_at"]

	return base
}

// SequenceSimilarity computes a case-insensitive similarity ratio in
// [0,1] between two strings: twice the total length of their matching
// blocks over the sum of the lengths.
func SequenceSimilarity(a, b string) float64 {
	left := []rune(strings.ToLower(a))
	right := []rune(strings.ToLower(b))
	total := len(left) + len(right)
	if total == 0 {
		return 1.0
	}
	matched := matchingBlockLength(left, right)
	return 2.0 * float64(matched) / float64(total)
}

// matchingBlockLength finds the longest common substring and recurses
// on the unmatched regions either side of it.
func matchingBlockLength(a, b []rune) int {
	bestA, bestB, bestLen := longestMatch(a, b)
	if bestLen == 0 {
		return 0
	}
	total := bestLen
	total += matchingBlockLength(a[:bestA], b[:bestB])
	total += matchingBlockLength(a[bestA+bestLen:], b[bestB+bestLen:])
	return total
}

func longestMatch(a, b []rune) (int, int, int) {
	bestA, bestB, bestLen := 0, 0, 0
	// lengths[j] holds the match length ending at a[i-1], b[j-1].
	lengths := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		prevDiag := 0
		for j := 1; j <= len(b); j++ {
			saved := lengths[j]
			if a[i-1] == b[j-1] {
				lengths[j] = prevDiag + 1
				if lengths[j] > bestLen {
					bestLen = lengths[j]
					bestA = i - bestLen
					bestB = j - bestLen
				}
			} else {
				lengths[j] = 0
			}
			prevDiag = saved
		}
	}
	return bestA, bestB, bestLen
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func sharesTag(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, tag := range a {
		set[strings.ToLower(tag)] = struct{}{}
	}
	for _, tag := range b {
		if _, ok := set[strings.ToLower(tag)]; ok {
			return true
		}
	}
	return false
}

func sortedUnion(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	union := make([]string, 0, len(set))
	for v := range set {
		union = append(union, v)
	}
	sort.Strings(union)
	return union
}
