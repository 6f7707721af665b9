package scheduler

import (
	"context"
	"encoding/json"
	"strings"

	"cogrouter/internal/llm"
	"cogrouter/internal/quality"
	"cogrouter/internal/retrieval/plan"
	"cogrouter/internal/scratchpad"
	"cogrouter/internal/timeline"
	"cogrouter/internal/toolgate"
)

// runStages executes one iteration's Core prefix (Conductor, ContextFetcher),
// the selected Specialist stages in ascending order, and the Core suffix's
// ToolGate stage — invariant 4's "Core prefix, Specialists, Core suffix"
// order, minus Judge/Voice, which Handle runs itself once stage outputs are
// merged. Per spec.md §7, an individual stage's failure degrades that
// stage to an empty output and the chain continues; only a budget
// exhaustion or context cancellation short-circuits the whole iteration.
func (s *Scheduler) runStages(ctx context.Context, sp *scratchpad.ScratchPad, provider llm.Provider, model string) error {
	if err := s.conductorStage(ctx, sp, provider, model); err != nil {
		s.recordStage(sp, "conductor", "", 0, FailureStage, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := s.contextFetcherStage(ctx, sp); err != nil {
		s.recordStage(sp, "context_fetcher", "", 0, FailureStage, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := s.specialistStages(ctx, sp); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := s.toolGateStage(ctx, sp, provider, model); err != nil {
		s.recordStage(sp, "tool_gate", "", 0, FailureStage, err)
	}

	return nil
}

// recordStage appends a degraded (quality 0) StageOutput and tees a
// timeline record for a stage that failed, per spec.md §7's "stage returns
// an empty output with a recorded failure; supervisor sees quality 0".
func (s *Scheduler) recordStage(sp *scratchpad.ScratchPad, stage, text string, q float64, failureKind string, err error) {
	sp.AddStageOutput(scratchpad.StageOutput{StageName: stage, Text: text, Quality: q})
	if s.Recorder != nil {
		s.Recorder.Record(timeline.StageRecord{
			TraceID: sp.TraceID, Stage: stage, Iteration: sp.Iteration,
			Success: err == nil, FailureKind: failureKind,
		})
	}
}

// conductorStage builds the SearchPlan (H), looks up candidate tools via M,
// and asks the Core provider which of the suggested tools to approve.
func (s *Scheduler) conductorStage(ctx context.Context, sp *scratchpad.ScratchPad, provider llm.Provider, model string) error {
	ctx, finish := timeline.StartStageSpan(ctx, s.Recorder, sp.TraceID, "conductor", sp.Iteration)
	success := true
	defer func() { finish(success, "", 0, 0) }()

	defaultBudget := 8000 - 1000
	knownFiles := map[string]struct{}{}
	knownIdentifiers := map[string]struct{}{}
	if s.Retriever != nil {
		defaultBudget = s.Retriever.DefaultBudget
		knownFiles = s.Retriever.KnownFiles
		knownIdentifiers = s.Retriever.KnownIdentifiers
	}
	sp.SearchPlan = plan.Build(sp.UserQuery, defaultBudget, knownFiles, knownIdentifiers)

	if s.Brains != nil {
		topK := s.SuggestedToolsTop
		names, err := s.Brains.SelectTools(ctx, sp.UserQuery, topK)
		if err != nil {
			success = false
			return err
		}
		sp.SuggestedTools = names
	}

	if len(sp.SuggestedTools) == 0 {
		sp.ApprovedTools = nil
		return nil
	}

	approved, err := s.approveTools(ctx, sp, provider, model)
	if err != nil {
		success = false
		// Fail closed: approve nothing rather than block the request.
		sp.ApprovedTools = nil
		return err
	}
	sp.ApprovedTools = approved
	return nil
}

// approveTools asks the Core provider to choose a subset of suggestedTools
// worth invoking for this query, expecting a JSON array of names back.
func (s *Scheduler) approveTools(ctx context.Context, sp *scratchpad.ScratchPad, provider llm.Provider, model string) ([]string, error) {
	sys := "You approve tool calls for a request router. Given the user's message and a list of candidate tool names, " +
		"reply with a JSON array containing only the names worth calling for this message. Reply with [] if none apply."
	user := "Message: " + sp.UserQuery + "\nCandidate tools: " + strings.Join(sp.SuggestedTools, ", ")
	msg, err := provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: user},
	}, nil, model)
	if err != nil {
		return nil, err
	}
	var names []string
	if jsonErr := json.Unmarshal([]byte(extractJSONArray(msg.Content)), &names); jsonErr != nil {
		return nil, nil
	}
	return intersect(names, sp.SuggestedTools), nil
}

func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end < start {
		return "[]"
	}
	return s[start : end+1]
}

func intersect(names, allowed []string) []string {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = struct{}{}
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := allowedSet[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// contextFetcherStage invokes J (the Code Retriever), writing codeContext.
func (s *Scheduler) contextFetcherStage(ctx context.Context, sp *scratchpad.ScratchPad) error {
	ctx, finish := timeline.StartStageSpan(ctx, s.Recorder, sp.TraceID, "context_fetcher", sp.Iteration)
	success := true
	defer func() { finish(success, "", 0, sp.CodeContext.TokensUsed) }()

	if s.Retriever == nil {
		return nil
	}
	cc, err := s.Retriever.Retrieve(ctx, sp.UserQuery)
	if err != nil {
		success = false
		return err
	}
	sp.CodeContext = cc
	return nil
}

// specialistStages runs the Brain Registry's top-N nearest-neighbor
// specialists for this query, ascending by configured Order, between
// ContextFetcher and ToolGate.
func (s *Scheduler) specialistStages(ctx context.Context, sp *scratchpad.ScratchPad) error {
	if s.Brains == nil {
		return nil
	}
	selected, err := s.Brains.SelectSpecialists(ctx, sp.UserQuery, s.SpecialistTopN)
	if err != nil {
		s.recordStage(sp, "specialists", "", 0, FailureStage, err)
		return nil
	}

	history := contextHistory(sp)
	for _, sel := range selected {
		stageName := "specialist:" + sel.Agent.Name
		stageCtx, finish := timeline.StartStageSpan(ctx, s.Recorder, sp.TraceID, stageName, sp.Iteration)

		text, err := sel.Agent.Inference(stageCtx, sp.UserQuery, history)
		if err != nil {
			finish(false, FailureStage, 0, 0)
			sp.AddStageOutput(scratchpad.StageOutput{StageName: stageName, Text: "", Quality: 0})
			continue
		}
		q := estimateQuality(text)
		finish(true, "", estimateTokens(sp.UserQuery), estimateTokens(text))
		sp.AddStageOutput(scratchpad.StageOutput{
			StageName: stageName,
			Text:      text,
			Quality:   q,
			TokensIn:  estimateTokens(sp.UserQuery),
			TokensOut: estimateTokens(text),
		})
	}
	return nil
}

// contextHistory turns the retrieved CodeContext into a synthetic system
// message so specialists see retrieval results as conversational context
// without every specialist needing its own retrieval call.
func contextHistory(sp *scratchpad.ScratchPad) []llm.Message {
	cctx := sp.ConversationContext
	hasConvo := len(cctx.Recent) > 0 || len(cctx.Related) > 0 || len(cctx.LongTerm) > 0
	if len(sp.CodeContext.FileSummaries) == 0 && len(sp.CodeContext.CodeChunks) == 0 && !hasConvo {
		return nil
	}
	var b strings.Builder
	b.WriteString("Relevant context:\n")
	for _, h := range sp.CodeContext.FileSummaries {
		b.WriteString("- ")
		b.WriteString(h.Text)
		b.WriteString("\n")
	}
	for _, h := range sp.CodeContext.CodeChunks {
		b.WriteString("- ")
		b.WriteString(h.Text)
		b.WriteString("\n")
	}
	if hasConvo {
		b.WriteString("Prior conversation:\n")
		for _, ex := range cctx.Recent {
			b.WriteString("- Q: ")
			b.WriteString(ex.UserQuery)
			b.WriteString(" A: ")
			b.WriteString(ex.AIResponse)
			b.WriteString("\n")
		}
		for _, ex := range cctx.Related {
			b.WriteString("- related Q: ")
			b.WriteString(ex.UserQuery)
			b.WriteString(" A: ")
			b.WriteString(ex.AIResponse)
			b.WriteString("\n")
		}
		for _, ltm := range cctx.LongTerm {
			b.WriteString("- long-term Q: ")
			b.WriteString(ltm.UserQuery)
			b.WriteString(" A: ")
			b.WriteString(ltm.AIResponse)
			b.WriteString("\n")
		}
	}
	return []llm.Message{{Role: "system", Content: b.String()}}
}

// estimateQuality scores one stage's raw output with the same rule-based
// consistency checker the Judge later runs over the merged text — an
// empty output scores 0 (spec.md §7's "dependency failures ... quality 0"),
// a clean one starts at 1 and loses ground per detected issue.
func estimateQuality(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	issues := len(quality.CheckConsistency(text).Issues)
	q := 1 - 0.15*float64(issues)
	if q < 0 {
		q = 0
	}
	return q
}

// judgeScore folds the Supervisor's top-3 average quality together with
// the Quality Gates' findings: each consistency issue and the
// hallucination score pull the final number down, per spec.md §4.9's
// "Judge uses them as inputs when computing quality" and scenario 6.
func judgeScore(avgQuality float64, consistency quality.ConsistencyResult, hallucination quality.HallucinationResult) float64 {
	q := avgQuality
	q -= 0.05 * float64(len(consistency.Issues))
	q -= hallucination.Score * 0.5
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}
	return q
}

// toolGateStage builds a toolgate.GatedRegistry scoped to this request's
// suggested/approved tools and, if any tools were approved, lets the Core
// provider make one round of tool calls against it.
func (s *Scheduler) toolGateStage(ctx context.Context, sp *scratchpad.ScratchPad, provider llm.Provider, model string) error {
	ctx, finish := timeline.StartStageSpan(ctx, s.Recorder, sp.TraceID, "tool_gate", sp.Iteration)
	success := true
	defer func() { finish(success, "", 0, 0) }()

	if s.Tools == nil || len(sp.ApprovedTools) == 0 {
		return nil
	}
	gated := toolgate.NewGatedRegistry(s.Tools, sp.SuggestedTools, sp.ApprovedTools, sp.UserQuery)

	msg, err := provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "Call any approved tool that helps answer the user's message, then summarize the result."},
		{Role: "user", Content: sp.UserQuery},
	}, gated.Schemas(), model)
	if err != nil {
		success = false
		return err
	}
	if len(msg.ToolCalls) == 0 {
		return nil
	}

	tc := msg.ToolCalls[0]
	payload, err := gated.Dispatch(ctx, tc.Name, tc.Args)
	if err != nil {
		sp.AddStageOutput(scratchpad.StageOutput{StageName: "tool_gate:" + tc.Name, Text: "", Quality: 0})
		return nil
	}
	sp.AddStageOutput(scratchpad.StageOutput{
		StageName: "tool_gate:" + tc.Name,
		Text:      string(payload),
		Quality:   0.6,
	})
	return nil
}

// voiceStage normalizes the merged output into the final user-facing text.
// A provider error here degrades to the unpolished merged text rather than
// failing the request, per spec.md §7's degrade-and-continue policy.
func (s *Scheduler) voiceStage(ctx context.Context, sp *scratchpad.ScratchPad, provider llm.Provider, model string) string {
	ctx, finish := timeline.StartStageSpan(ctx, s.Recorder, sp.TraceID, "voice", sp.Iteration)
	merged := strings.TrimSpace(sp.MergedOutput)
	if merged == "" {
		finish(true, "", 0, 0)
		return ""
	}

	msg, err := provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "Rewrite the following into a single clear, well-formed reply for the user. Do not add new facts."},
		{Role: "user", Content: merged},
	}, nil, model)
	if err != nil {
		finish(false, FailureStage, 0, 0)
		return merged
	}
	finish(true, "", estimateTokens(merged), estimateTokens(msg.Content))
	if strings.TrimSpace(msg.Content) == "" {
		return merged
	}
	return msg.Content
}

// usedToolNames reports which approved tools actually produced a
// stage output this request, for Response.ToolsUsed.
func usedToolNames(approved []string, outputs []scratchpad.StageOutput) []string {
	ran := make(map[string]struct{}, len(outputs))
	for _, o := range outputs {
		if name, ok := strings.CutPrefix(o.StageName, "tool_gate:"); ok {
			ran[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(ran))
	for _, name := range approved {
		if _, ok := ran[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
