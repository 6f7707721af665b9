// Package scratchpad defines the per-request shared state every stage of
// the Brain-Chain Scheduler reads and writes (spec.md §3, §4.6). A
// ScratchPad's lifetime is one request: created on entry, discarded on
// exit. Stages run one at a time per request, so no internal locking is
// needed — read-after-write within one iteration is sequentially consistent
// by construction.
package scratchpad

import (
	"cogrouter/internal/memory"
	"cogrouter/internal/quality"
	"cogrouter/internal/retrieval"
	"cogrouter/internal/retrieval/plan"
)

// StageOutput is one stage's contribution, per spec.md §3.
type StageOutput struct {
	StageName string
	Text      string
	Quality   float64
	TokensIn  int
	TokensOut int
	ElapsedMs int64
}

// ScratchPad holds the declared slots named in spec.md §3: traceId,
// provider, conversationId, iteration, userQuery, searchPlan,
// suggestedTools, approvedTools, codeContext, stageOutputs, mergedOutput,
// consistency, hallucination.
type ScratchPad struct {
	TraceID        string
	Provider       string
	ConversationID string
	Iteration      int
	UserQuery      string

	SearchPlan     plan.SearchPlan
	SuggestedTools []string
	ApprovedTools  []string
	CodeContext    retrieval.CodeContext

	// ConversationContext is component L's recent/related/long-term lookup
	// for this session, fetched once per request before the stage chain runs.
	ConversationContext memory.Retrieval

	StageOutputs []StageOutput
	MergedOutput string

	Consistency   quality.ConsistencyResult
	Hallucination quality.HallucinationResult
}

// New allocates a fresh ScratchPad for one request.
func New(traceID, provider, conversationID, userQuery string) *ScratchPad {
	return &ScratchPad{
		TraceID:        traceID,
		Provider:       provider,
		ConversationID: conversationID,
		UserQuery:      userQuery,
	}
}

// AddStageOutput appends a stage's output to the scratchpad's running log.
func (s *ScratchPad) AddStageOutput(out StageOutput) {
	s.StageOutputs = append(s.StageOutputs, out)
}
