// Package budget implements component I, the Context Budget Manager: token
// estimation, content/file relevance scoring, and greedy pruning under a
// token ceiling (spec.md §4.4).
package budget

import (
	"sort"
	"strings"
)

// Budget tracks token accounting for one request's context assembly.
// Invariant: Used <= Max unless an over-limit event was explicitly accepted.
type Budget struct {
	Max  int
	Used int
}

// New returns a Budget with the given ceiling.
func New(max int) *Budget { return &Budget{Max: max} }

// EstimateTokens is spec.md §4.4's ceil(len/4) estimator.
func EstimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}

// Remaining is Max - Used, never negative.
func (b *Budget) Remaining() int {
	r := b.Max - b.Used
	if r < 0 {
		return 0
	}
	return r
}

// CanAdd reports whether content fits without exceeding Max.
func (b *Budget) CanAdd(content string) bool {
	return b.Used+EstimateTokens(content) <= b.Max
}

// AddContent increments Used by content's token estimate. Callers must have
// already checked CanAdd; AddContent itself never rejects (mirrors spec.md's
// admission-helper contract: the check and the increment are separate).
func (b *Budget) AddContent(content string) {
	b.Used += EstimateTokens(content)
}

// IsNearLimit is spec.md §4.4's usage% > 80 threshold, used by the planner
// and retriever to tighten parameters under pressure.
func (b *Budget) IsNearLimit() bool {
	if b.Max <= 0 {
		return false
	}
	return float64(b.Used)/float64(b.Max)*100 > 80
}

var roleKeywords = []string{"service", "config", "advisor"}
var structuralMarkers = []string{"public class", "@service", "@component", "@configuration", "@bean"}

// ContentScore implements spec.md §4.4's content relevance score.
func ContentScore(query, content string) float64 {
	qWords := significantWords(query)
	lowerContent := strings.ToLower(content)

	score := 0.0
	for _, w := range qWords {
		if strings.Contains(lowerContent, w) {
			score += 0.2
		}
	}
	lowerQuery := strings.ToLower(query)
	for _, kw := range roleKeywords {
		if strings.Contains(lowerQuery, kw) && strings.Contains(lowerContent, kw) {
			score += 0.3
		}
	}
	for _, marker := range structuralMarkers {
		if strings.Contains(lowerContent, marker) {
			score += 0.2
		}
	}
	if len(content) > 5000 {
		score *= 0.8
	}
	return clamp01(score)
}

// FileScore implements spec.md §4.4's file relevance score.
func FileScore(query, filename string, coreFiles map[string]struct{}) float64 {
	qWords := significantWords(query)
	lowerFilename := strings.ToLower(filename)

	score := 0.0
	for _, w := range qWords {
		if strings.Contains(lowerFilename, w) {
			score += 0.4
		}
	}
	lowerQuery := strings.ToLower(query)
	for _, kw := range roleKeywords {
		if strings.Contains(lowerQuery, kw) && strings.Contains(lowerFilename, kw) {
			score += 0.5
		}
	}
	if _, ok := coreFiles[filename]; ok {
		score += 0.3
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0 {
		return 0
	}
	return v
}

func significantWords(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

// Scored pairs an arbitrary item with its relevance score, for Prune's
// greedy selection.
type Scored[T any] struct {
	Item  T
	Score float64
	Text  string // text whose token estimate is charged against the budget
}

// Prune greedily selects highest-scoring items while they still fit under
// b's remaining budget, charging each admitted item's tokens as it goes.
func Prune[T any](b *Budget, items []Scored[T]) []T {
	sorted := make([]Scored[T], len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	out := make([]T, 0, len(sorted))
	for _, it := range sorted {
		if !b.CanAdd(it.Text) {
			continue
		}
		b.AddContent(it.Text)
		out = append(out, it.Item)
	}
	return out
}

// DropLowScoringFiles applies spec.md §4.4's rule: files scoring < 0.3 are
// dropped only when the candidate list is larger than 5.
func DropLowScoringFiles(scores map[string]float64) map[string]float64 {
	if len(scores) <= 5 {
		return scores
	}
	out := make(map[string]float64, len(scores))
	for f, s := range scores {
		if s >= 0.3 {
			out[f] = s
		}
	}
	return out
}
