// Package quality implements component P, the Quality Gates: a rule-based
// consistency checker and a rule-based hallucination detector run over a
// merged stage output, per spec.md §4.9. Both are pure text-scanning rules
// with no retrieval or model dependency, so this package is stdlib-only —
// no example repo's NLP/classification library fits bespoke rule checks
// like brace-balance or deictic-reference detection.
package quality

import (
	"regexp"
	"strings"
)

// ConsistencyResult is the consistency checker's output.
type ConsistencyResult struct {
	MeanSimilarity float64
	FlaggedPairs   [][2]int
	Issues         []string
}

// HallucinationResult is the hallucination detector's output.
type HallucinationResult struct {
	Score   float64
	Issues  []string
	Trusted bool
}

var (
	yesNoRe       = regexp.MustCompile(`(?i)\byes\b|\bno\b`)
	alwaysNeverRe = regexp.MustCompile(`(?i)\balways\b|\bnever\b`)
	mustOptRe     = regexp.MustCompile(`(?i)\bmust\b|\boptional\b`)
	openerFragRe  = regexp.MustCompile(`(?i)for example,\s*$`)
	deicticRe     = regexp.MustCompile(`(?i)\b(this|that)\b`)
)

const proximityWindow = 500

// CheckConsistency implements spec.md §4.9's consistency check over the
// final merged text: proximity of contradictory word-pairs, incomplete
// opener fragments, orphaned deictic references, missing transitions in
// long texts, and brace/paren/bracket balance in fenced code blocks.
func CheckConsistency(text string) ConsistencyResult {
	var issues []string

	if hasNearbyPair(text, yesNoRe, proximityWindow) {
		issues = append(issues, "yes/no proximity conflict")
	}
	if hasNearbyPair(text, alwaysNeverRe, proximityWindow) {
		issues = append(issues, "always/never proximity conflict")
	}
	if hasNearbyPair(text, mustOptRe, proximityWindow) {
		issues = append(issues, "must/optional proximity conflict")
	}
	if openerFragRe.MatchString(strings.TrimRight(text, " \t\n")) {
		issues = append(issues, "incomplete opener fragment")
	}
	if isOrphanedDeictic(text) {
		issues = append(issues, "orphaned deictic reference")
	}
	if len(text) > 500 && !hasTransition(text) {
		issues = append(issues, "missing logical transition in long text")
	}
	if !bracesBalanced(text) {
		issues = append(issues, "unbalanced braces/parens/brackets in code block")
	}

	return ConsistencyResult{Issues: issues}
}

// hasNearbyPair reports whether re matches at least twice within window
// chars of each other anywhere in text — a crude proxy for a direct
// contradiction ("yes... no" close together).
func hasNearbyPair(text string, re *regexp.Regexp, window int) bool {
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) < 2 {
		return false
	}
	for i := 1; i < len(locs); i++ {
		if locs[i][0]-locs[i-1][1] <= window {
			return true
		}
	}
	return false
}

// isOrphanedDeictic flags a sentence that opens with a bare "This" / "That"
// with no preceding sentence to anchor the reference.
func isOrphanedDeictic(text string) bool {
	sentences := strings.Split(text, ".")
	for i, s := range sentences {
		trimmed := strings.TrimSpace(s)
		lower := strings.ToLower(trimmed)
		if i == 0 && deicticRe.MatchString(trimmed) && (strings.HasPrefix(lower, "this") || strings.HasPrefix(lower, "that")) {
			return true
		}
	}
	return false
}

var transitionWords = []string{"however", "therefore", "additionally", "furthermore", "moreover", "because", "so that", "as a result", "first", "second", "finally"}

func hasTransition(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range transitionWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func bracesBalanced(text string) bool {
	pairs := map[rune]rune{'}': '{', ')': '(', ']': '['}
	var stack []rune
	for _, r := range text {
		switch r {
		case '{', '(', '[':
			stack = append(stack, r)
		case '}', ')', ']':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0
}

// Severity is a hallucination issue's tag.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

var defaultSuspiciousPhrases = map[string]Severity{
	"definitely":       SeverityMedium,
	"guaranteed":       SeverityHigh,
	"everyone knows":   SeverityHigh,
	"always works":     SeverityMedium,
	"never fails":      SeverityMedium,
	"100% certain":     SeverityHigh,
	"without a doubt":  SeverityMedium,
	"obviously":        SeverityLow,
}

// CheckHallucination implements spec.md §4.9's hallucination detector.
// knownFacts and suspiciousPhrases are adjustable per-deployment; a nil
// suspiciousPhrases falls back to a built-in default set.
func CheckHallucination(text string, knownFacts []string, suspiciousPhrases map[string]Severity) HallucinationResult {
	if suspiciousPhrases == nil {
		suspiciousPhrases = defaultSuspiciousPhrases
	}
	lower := strings.ToLower(text)

	var issues []string
	counts := map[Severity]int{}

	for phrase, sev := range suspiciousPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			issues = append(issues, "suspicious phrase: "+phrase)
			counts[sev]++
		}
	}

	for _, fact := range knownFacts {
		if negatesFact(lower, fact) {
			issues = append(issues, "contradicts known fact: "+fact)
			counts[SeverityHigh]++
		}
	}

	score := 0.5*float64(counts[SeverityHigh]) + 0.2*float64(counts[SeverityMedium]) + 0.05*float64(counts[SeverityLow])
	if score > 1 {
		score = 1
	}
	trusted := score < 0.3 && counts[SeverityHigh] == 0

	return HallucinationResult{Score: score, Issues: issues, Trusted: trusted}
}

// negatesFact is a coarse check: the response contains the fact's key terms
// alongside an explicit negation ("not", "isn't", "doesn't").
func negatesFact(lowerText, fact string) bool {
	factLower := strings.ToLower(strings.TrimSpace(fact))
	if factLower == "" {
		return false
	}
	if !strings.Contains(lowerText, factLower) {
		return false
	}
	idx := strings.Index(lowerText, factLower)
	window := lowerText[max(0, idx-40):idx]
	return strings.Contains(window, "not ") || strings.Contains(window, "isn't") || strings.Contains(window, "doesn't") || strings.Contains(window, "never ")
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
