// Package scheduler implements component N, the Brain-Chain Scheduler: the
// per-request orchestrator that builds the Core + Specialist stage chain,
// shares a ScratchPad across stages, runs the bounded ReAct iteration loop,
// and merges stage outputs into a final reply, per spec.md §4.6.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"cogrouter/internal/brains"
	"cogrouter/internal/config"
	"cogrouter/internal/llm"
	"cogrouter/internal/memory"
	"cogrouter/internal/quality"
	"cogrouter/internal/retrieval"
	"cogrouter/internal/scratchpad"
	"cogrouter/internal/specialists"
	"cogrouter/internal/supervisor"
	"cogrouter/internal/timeline"
	"cogrouter/internal/tokenbudget"
	"cogrouter/internal/tools"
)

// Request is spec.md §4.6's scheduler input.
type Request struct {
	Provider       string
	Message        string
	ConversationID string
	UserID         string
}

// Response is spec.md §4.6's scheduler output.
type Response struct {
	Text          string
	Provider      string
	ToolsUsed     []string
	Quality       float64
	Trusted       bool
	Iterations    int
	PartialReason string // "" unless the response is partial (e.g. "BudgetExceeded", "Cancelled")
}

// Failure mode tags, per spec.md §4.6.
const (
	FailureInvalidProvider = "InvalidProvider"
	FailureStage           = "StageFailure"
	FailureBudget          = "BudgetExceeded"
	FailureCancelled       = "Cancelled"
)

// ErrInvalidProvider is fatal and surfaced directly, unlike every other
// failure mode, which degrades the request instead of failing it.
var ErrInvalidProvider = errors.New("scheduler: invalid provider")

var errBudgetExceeded = errors.New("scheduler: token budget exceeded mid-request")

// Scheduler wires every component N depends on: M (brains), J (retriever),
// O (supervisor), P (quality, called directly — it is rule-based and needs
// no registry), Q (token budget), K/L (working + conversation memory), and
// R (timeline).
type Scheduler struct {
	Brains        *brains.Registry
	Retriever     *retrieval.Retriever
	Supervisor    *supervisor.Supervisor
	Tokens        tokenbudget.Store
	Working       *memory.WorkingStore
	Conversations *memory.ConversationStore
	Recorder      timeline.Recorder
	Tools         tools.Registry

	LLMClientConfig config.LLMClientConfig
	HTTPClient      *http.Client

	KnownFacts        []string
	SuspiciousPhrases map[string]quality.Severity

	MaxIterations     int
	QualityThreshold  float64
	SpecialistTopN    int
	SuggestedToolsTop int
	CoreModel         string

	// ResolveProvider builds the Core LLM stages' provider for one request.
	// Defaults to specialists.ResolveCoreProvider; overridable for tests.
	ResolveProvider func(providerName, model string) (llm.Provider, string)

	// NewTraceID is overridable for tests; defaults to uuid.NewString.
	NewTraceID func() string
}

// New returns a Scheduler with spec.md §6 defaults for every tunable not
// already set on cfg.
func New(cfg config.Config, brainReg *brains.Registry, retriever *retrieval.Retriever, sup *supervisor.Supervisor, tokens tokenbudget.Store, working *memory.WorkingStore, conversations *memory.ConversationStore, recorder timeline.Recorder, toolsReg tools.Registry, httpClient *http.Client) *Scheduler {
	maxIter := cfg.Scheduler.MaxIterations
	if maxIter <= 0 {
		maxIter = 2
	}
	qt := cfg.Quality.Threshold
	if qt <= 0 {
		qt = 0.75
	}
	llmCfg := cfg.LLMClient
	s := &Scheduler{
		Brains:            brainReg,
		Retriever:         retriever,
		Supervisor:        sup,
		Tokens:            tokens,
		Working:           working,
		Conversations:     conversations,
		Recorder:          recorder,
		Tools:             toolsReg,
		LLMClientConfig:   llmCfg,
		HTTPClient:        httpClient,
		MaxIterations:     maxIter,
		QualityThreshold:  qt,
		SpecialistTopN:    3,
		SuggestedToolsTop: 5,
		NewTraceID:        uuid.NewString,
	}
	s.ResolveProvider = func(providerName, model string) (llm.Provider, string) {
		return specialists.ResolveCoreProvider(llmCfg, httpClient, providerName, model)
	}
	return s
}

// Handle runs spec.md §4.6's full request lifecycle: allocate state, run
// the Core/Specialist stage chain for up to MaxIterations passes, merge,
// and clear request-scoped state on exit (the ScratchPad is local to this
// call and discarded on return — nothing survives it but what's explicitly
// written to Q, R, K, and L below).
func (s *Scheduler) Handle(ctx context.Context, req Request) (Response, error) {
	traceID := s.traceID()
	provider, model := s.ResolveProvider(req.Provider, s.CoreModel)
	if provider == nil {
		return Response{}, fmt.Errorf("%w: %q", ErrInvalidProvider, req.Provider)
	}

	userID := req.UserID
	if userID == "" {
		userID = "anonymous"
	}
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = minuteQuantizedConversationID(time.Now())
	}

	sp := scratchpad.New(traceID, req.Provider, conversationID, req.Message)

	if s.Working != nil {
		s.Working.For(userID).AddMessage(req.Message)
	}
	if s.Conversations != nil {
		sp.ConversationContext = s.Conversations.Retrieve(conversationID, req.Message)
	}

	var partialReason string
	var judgeQuality float64
	var finalText string
	cyclesSoFar := 0

	for iteration := 1; iteration <= s.MaxIterations; iteration++ {
		sp.Iteration = iteration

		if ctx.Err() != nil {
			partialReason = FailureCancelled
			break
		}

		if s.Tokens != nil {
			budget, err := s.Tokens.Get(ctx, userID)
			if err == nil && budget.Remaining() <= 0 {
				partialReason = FailureBudget
				break
			}
		}

		if err := s.runStages(ctx, sp, provider, model); err != nil {
			switch {
			case errors.Is(err, errBudgetExceeded):
				partialReason = FailureBudget
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				partialReason = FailureCancelled
			}
			if partialReason != "" {
				break
			}
		}

		mergedText, avgQuality := supervisor.Merge(sp.StageOutputs)
		sp.MergedOutput = mergedText
		sp.Consistency = quality.CheckConsistency(mergedText)
		sp.Hallucination = quality.CheckHallucination(mergedText, s.KnownFacts, s.SuspiciousPhrases)
		judgeQuality = judgeScore(avgQuality, sp.Consistency, sp.Hallucination)

		if s.Supervisor != nil {
			s.Supervisor.Record(conversationID, sp.StageOutputs)
			if cr := s.Supervisor.Consistency(conversationID); cr.MeanSimilarity < 1 {
				judgeQuality *= cr.MeanSimilarity
			}
		}

		// Voice runs every iteration (it's part of the fixed Core suffix),
		// but only the latest iteration's output is ever returned.
		finalText = s.voiceStage(ctx, sp, provider, model)

		canRefine := sp.SearchPlan.Complexity >= 2 && len(sp.SearchPlan.RequiredTools) > 0
		wantsRefine := supervisor.ShouldReevaluate(judgeQuality, cyclesSoFar)

		if !canRefine || !wantsRefine || iteration >= s.MaxIterations {
			break
		}
		if s.Supervisor != nil {
			cyclesSoFar = s.Supervisor.RecordCycle(conversationID)
		} else {
			cyclesSoFar++
		}
	}

	toolsUsed := usedToolNames(sp.ApprovedTools, sp.StageOutputs)

	if s.Conversations != nil {
		s.Conversations.Append(conversationID, userID, memory.Exchange{
			UserQuery:  req.Message,
			AIResponse: finalText,
			Strategy:   string(sp.SearchPlan.Strategy),
			Confidence: sp.SearchPlan.Confidence,
			Timestamp:  time.Now(),
		})
	}
	if s.Working != nil {
		s.Working.For(userID).AddStageOutput(finalText)
	}
	if s.Tokens != nil {
		estIn := estimateTokens(req.Message)
		estOut := estimateTokens(finalText)
		if _, err := s.Tokens.Consume(ctx, userID, int64(estIn+estOut)); err != nil && partialReason == "" {
			partialReason = FailureBudget
		}
	}

	return Response{
		Text:          finalText,
		Provider:      req.Provider,
		ToolsUsed:     toolsUsed,
		Quality:       judgeQuality,
		Trusted:       sp.Hallucination.Trusted,
		Iterations:    sp.Iteration,
		PartialReason: partialReason,
	}, nil
}

func (s *Scheduler) traceID() string {
	if s.NewTraceID != nil {
		return s.NewTraceID()
	}
	return uuid.NewString()
}

// minuteQuantizedConversationID implements spec.md §3's fallback: "if
// absent, derived from a minute-quantized wall clock" — turns within the
// same wall-clock minute with no explicit conversationId share one.
func minuteQuantizedConversationID(t time.Time) string {
	return "ts:" + t.UTC().Truncate(time.Minute).Format(time.RFC3339)
}

func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}
