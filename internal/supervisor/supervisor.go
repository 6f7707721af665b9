// Package supervisor implements component O: per-conversation accumulation
// of stage outputs, quality-ranked merging, and inter-output consistency,
// per spec.md §4.8. shouldReevaluate is advisory to the scheduler (N), which
// remains the authority on whether another iteration actually runs.
package supervisor

import (
	"sort"
	"strings"
	"sync"

	"cogrouter/internal/scratchpad"
)

const (
	qualityThreshold = 0.75
	maxCycles        = 3
	topN             = 3
)

// conversationState accumulates stage outputs and re-evaluation cycles for
// one conversationId.
type conversationState struct {
	outputs []scratchpad.StageOutput
	cycles  int
}

// Supervisor tracks per-conversation state across a conversation's turns.
type Supervisor struct {
	mu            sync.Mutex
	conversations map[string]*conversationState
}

// New returns an empty Supervisor.
func New() *Supervisor {
	return &Supervisor{conversations: make(map[string]*conversationState)}
}

// Record appends outputs (typically one request's stage outputs) to
// conversationId's accumulated record.
func (s *Supervisor) Record(conversationID string, outputs []scratchpad.StageOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.stateLocked(conversationID)
	cs.outputs = append(cs.outputs, outputs...)
}

func (s *Supervisor) stateLocked(conversationID string) *conversationState {
	cs, ok := s.conversations[conversationID]
	if !ok {
		cs = &conversationState{}
		s.conversations[conversationID] = cs
	}
	return cs
}

// Merge implements spec.md §4.8's merge(): sort outputs by quality
// descending, concatenate the top 3 with a double-newline separator, and
// return the average quality of those top 3.
func Merge(outputs []scratchpad.StageOutput) (string, float64) {
	if len(outputs) == 0 {
		return "", 0
	}
	sorted := make([]scratchpad.StageOutput, len(outputs))
	copy(sorted, outputs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Quality > sorted[j].Quality })

	n := topN
	if n > len(sorted) {
		n = len(sorted)
	}
	texts := make([]string, 0, n)
	sum := 0.0
	for i := 0; i < n; i++ {
		texts = append(texts, sorted[i].Text)
		sum += sorted[i].Quality
	}
	return strings.Join(texts, "\n\n"), sum / float64(n)
}

// ConsistencyReport is Consistency()'s output.
type ConsistencyReport struct {
	MeanSimilarity float64
	FlaggedPairs   [][2]int
}

// Consistency implements spec.md §4.8's consistency(): pairwise Jaccard
// over whitespace-tokenized, lowercased outputs, reporting mean similarity
// and any pair scoring below 0.5.
func Consistency(outputs []scratchpad.StageOutput) ConsistencyReport {
	n := len(outputs)
	if n < 2 {
		return ConsistencyReport{MeanSimilarity: 1}
	}
	tokens := make([]map[string]struct{}, n)
	for i, o := range outputs {
		tokens[i] = tokenSet(o.Text)
	}

	var flagged [][2]int
	sum, count := 0.0, 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim := jaccard(tokens[i], tokens[j])
			sum += sim
			count++
			if sim < 0.5 {
				flagged = append(flagged, [2]int{i, j})
			}
		}
	}
	mean := 0.0
	if count > 0 {
		mean = sum / float64(count)
	}
	return ConsistencyReport{MeanSimilarity: mean, FlaggedPairs: flagged}
}

// Consistency runs the package-level Consistency() check over every stage
// output recorded for conversationId so far (via Record), giving the
// scheduler a cross-request, cross-specialist consistency signal rather
// than one limited to a single iteration's outputs.
func (s *Supervisor) Consistency(conversationID string) ConsistencyReport {
	s.mu.Lock()
	outputs := append([]scratchpad.StageOutput(nil), s.stateLocked(conversationID).outputs...)
	s.mu.Unlock()
	return Consistency(outputs)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// ShouldReevaluate implements spec.md §4.8's advisory gate:
// currentQuality < 0.75 and cyclesSoFar < 3. The scheduler (N) still
// enforces its own hard MAX_ITERATIONS ceiling independently.
func ShouldReevaluate(currentQuality float64, cyclesSoFar int) bool {
	return currentQuality < qualityThreshold && cyclesSoFar < maxCycles
}

// RecordCycle increments conversationId's re-evaluation cycle counter and
// returns the new count.
func (s *Supervisor) RecordCycle(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.stateLocked(conversationID)
	cs.cycles++
	return cs.cycles
}

// Cycles returns conversationId's current re-evaluation cycle count.
func (s *Supervisor) Cycles(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(conversationID).cycles
}
