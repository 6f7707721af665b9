// Package plan implements component H, the Query Planner: a pure function
// of the query string (plus the caller's known file and identifier sets)
// that emits a SearchPlan per spec.md §4.3's ordered keyword-rule dispatch.
// It does not read working memory.
package plan

import (
	"regexp"
	"strings"
)

// Strategy is one of the six retrieval strategies a plan can select.
type Strategy string

const (
	StrategySimilarity     Strategy = "similarity_search"
	StrategyEntityCentered Strategy = "entity_centered"
	StrategyDependencyGraph Strategy = "dependency_graph"
	StrategyMethodFocused  Strategy = "method_focused"
	StrategyErrorTrace     Strategy = "error_trace"
	StrategyConfiguration  Strategy = "configuration_chain"
)

// SearchPlan is the planner's immutable-per-request output (spec.md §3).
type SearchPlan struct {
	OriginalQuery      string
	Strategy           Strategy
	TopK               int
	MaxHops            int
	IncludeReverseDeps bool
	TokenBudget        int
	TargetEntities     map[string]struct{}
	StartingFiles      map[string]struct{}
	Confidence         float64

	// Complexity and RequiredTools feed the scheduler's iteration-continue
	// check (spec.md §4.6: "its complexity ≥ 2 and it declared required
	// tools"). Complexity is derived from how much retrieval work the
	// strategy implies (hops, reverse-dep traversal, breadth); RequiredTools
	// names the tool families a plan of this strategy typically needs
	// dispatched before Judge can assess the answer as complete.
	Complexity    int
	RequiredTools []string
}

// identifierRe matches a class-like identifier: PascalCase word, or a
// recognizable file basename. This resolves spec.md §9's open question on
// entity-centered fingerprinting in favor of identifier tokenization over a
// plain substring check.
var identifierRe = regexp.MustCompile(`\b([A-Z][A-Za-z0-9]*(?:\.[A-Za-z0-9]+)?)\b`)

var errorWords = []string{"error", "exception", "fail", "failure", "crash", "stack trace", "traceback"}
var configWords = []string{"config", "configuration", "bean", "setup", "settings"}
var implWords = []string{"how does", "implement", "implementation", "method", "function"}
var archWords = []string{"architecture", "design", "structure", "diagram", "overview"}

// Build classifies query and returns a SearchPlan, applying spec.md §4.3's
// rules in order; the first rule that matches wins. defaultTokenBudget is
// maxContextTokens - reservedResponseTokens (spec.md §6).
func Build(query string, defaultTokenBudget int, knownFiles, knownIdentifiers map[string]struct{}) SearchPlan {
	q := strings.TrimSpace(query)
	lower := strings.ToLower(q)

	base := SearchPlan{
		OriginalQuery:  q,
		TokenBudget:    defaultTokenBudget,
		TargetEntities: map[string]struct{}{},
		StartingFiles:  map[string]struct{}{},
	}

	// Rule 1: exact file basename or class-like identifier match.
	if id, ok := matchKnownEntity(q, knownFiles, knownIdentifiers); ok {
		base.Strategy = StrategyEntityCentered
		base.TargetEntities[id] = struct{}{}
		base.TopK, base.MaxHops, base.IncludeReverseDeps = 4, 1, true
		base.Confidence = 0.85
		base.RequiredTools = []string{"read_file"}
		base.Complexity = complexity(base)
		return base
	}

	// Rule 2: error/exception vocabulary.
	if containsAny(lower, errorWords) {
		base.Strategy = StrategyErrorTrace
		base.TopK, base.MaxHops, base.IncludeReverseDeps = 6, 2, true
		base.Confidence = 0.85
		base.RequiredTools = []string{"read_file", "grep_logs"}
		base.Complexity = complexity(base)
		return base
	}

	// Rule 3: configuration vocabulary.
	if containsAny(lower, configWords) {
		base.Strategy = StrategyConfiguration
		base.TopK, base.MaxHops, base.IncludeReverseDeps = 4, 1, false
		base.Confidence = 0.85
		base.Complexity = complexity(base)
		return base
	}

	// Rule 4: implementation vocabulary.
	if containsAny(lower, implWords) {
		base.Strategy = StrategyMethodFocused
		base.TopK, base.MaxHops, base.IncludeReverseDeps = 6, 1, false
		base.Confidence = 0.85
		base.Complexity = complexity(base)
		return base
	}

	// Rule 5: architecture vocabulary.
	if containsAny(lower, archWords) {
		base.Strategy = StrategyDependencyGraph
		base.TopK, base.MaxHops, base.IncludeReverseDeps = 6, 2, true
		base.Confidence = 0.85
		base.RequiredTools = []string{"read_file"}
		base.Complexity = complexity(base)
		return base
	}

	// Rule 6: default.
	base.Strategy = StrategySimilarity
	base.TopK, base.MaxHops, base.IncludeReverseDeps = 5, 1, false
	base.Confidence = 0.5
	base.Complexity = complexity(base)
	return base
}

// complexity scores how much retrieval work a plan implies: one point per
// hop, plus one for a reverse-dependency traversal and one for a top-K of 6
// or more.
func complexity(p SearchPlan) int {
	c := p.MaxHops
	if p.IncludeReverseDeps {
		c++
	}
	if p.TopK >= 6 {
		c++
	}
	return c
}

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// matchKnownEntity looks for an identifier token in query that exactly
// matches a known file basename (without extension) or a known identifier.
func matchKnownEntity(query string, knownFiles, knownIdentifiers map[string]struct{}) (string, bool) {
	for _, m := range identifierRe.FindAllString(query, -1) {
		if _, ok := knownIdentifiers[m]; ok {
			return m, true
		}
		for f := range knownFiles {
			base := strings.TrimSuffix(f, fileExt(f))
			if base == m {
				return m, true
			}
		}
	}
	return "", false
}

func fileExt(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i:]
	}
	return ""
}
