package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"cogrouter/internal/config"
	"cogrouter/internal/llm"
	"cogrouter/internal/memory"
	"cogrouter/internal/quality"
	"cogrouter/internal/scratchpad"
	"cogrouter/internal/supervisor"
	"cogrouter/internal/timeline"
	"cogrouter/internal/tokenbudget"
)

// stubProvider is a scripted llm.Provider for exercising the scheduler
// without a network-backed backend.
type stubProvider struct {
	replies []llm.Message
	calls   int
	err     error
}

func (p *stubProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	if p.err != nil {
		return llm.Message{}, p.err
	}
	if p.calls >= len(p.replies) {
		p.calls++
		return llm.Message{Role: "assistant", Content: ""}, nil
	}
	msg := p.replies[p.calls]
	p.calls++
	return msg, nil
}

func (p *stubProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return errors.New("not implemented")
}

func newTestScheduler(provider llm.Provider) *Scheduler {
	cfg := config.Config{}
	s := New(cfg, nil, nil, supervisor.New(), tokenbudget.NewMemoryStore(100000, time.Hour),
		memory.NewWorkingStore(), memory.NewConversationStore(), timeline.NewMemoryRecorder(), nil, nil)
	s.NewTraceID = func() string { return "trace-fixed" }
	s.ResolveProvider = func(providerName, model string) (llm.Provider, string) {
		if providerName == "broken" {
			return nil, ""
		}
		return provider, "test-model"
	}
	return s
}

func TestHandleInvalidProviderIsFatal(t *testing.T) {
	s := newTestScheduler(&stubProvider{})
	_, err := s.Handle(context.Background(), Request{Provider: "broken", Message: "hi"})
	if !errors.Is(err, ErrInvalidProvider) {
		t.Fatalf("expected ErrInvalidProvider, got %v", err)
	}
}

func TestHandleNoSpecialistsReturnsEmptyVoiceOutput(t *testing.T) {
	s := newTestScheduler(&stubProvider{})
	resp, err := s.Handle(context.Background(), Request{Provider: "default", Message: "tell me something interesting"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "" {
		t.Fatalf("expected empty text with no specialists wired, got %q", resp.Text)
	}
	if resp.Iterations != 1 {
		t.Fatalf("expected 1 iteration when the plan declares no required tools, got %d", resp.Iterations)
	}
	if resp.PartialReason != "" {
		t.Fatalf("expected no partial reason, got %q", resp.PartialReason)
	}
}

func TestHandleCancelledContextReportsPartial(t *testing.T) {
	s := newTestScheduler(&stubProvider{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err := s.Handle(ctx, Request{Provider: "default", Message: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.PartialReason != FailureCancelled {
		t.Fatalf("expected Cancelled partial reason, got %q", resp.PartialReason)
	}
}

func TestHandleExhaustedBudgetShortCircuits(t *testing.T) {
	store := tokenbudget.NewMemoryStore(1, time.Hour)
	cfg := config.Config{}
	s := New(cfg, nil, nil, supervisor.New(), store, memory.NewWorkingStore(),
		memory.NewConversationStore(), timeline.NewMemoryRecorder(), nil, nil)
	s.NewTraceID = func() string { return "trace-budget" }
	provider := &stubProvider{}
	s.ResolveProvider = func(providerName, model string) (llm.Provider, string) { return provider, "test-model" }

	if _, err := store.Consume(context.Background(), "anonymous", 1); err != nil {
		t.Fatalf("seed consume: %v", err)
	}

	resp, err := s.Handle(context.Background(), Request{Provider: "default", Message: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.PartialReason != FailureBudget {
		t.Fatalf("expected BudgetExceeded partial reason, got %q", resp.PartialReason)
	}
}

func TestMinuteQuantizedConversationIDIsStableWithinAMinute(t *testing.T) {
	base := time.Date(2026, 7, 30, 10, 15, 0, 0, time.UTC)
	a := minuteQuantizedConversationID(base)
	b := minuteQuantizedConversationID(base.Add(45 * time.Second))
	if a != b {
		t.Fatalf("expected same conversation id within a minute, got %q vs %q", a, b)
	}
	c := minuteQuantizedConversationID(base.Add(61 * time.Second))
	if a == c {
		t.Fatalf("expected different conversation id across a minute boundary")
	}
}

func TestEstimateTokensCeilsQuarterLength(t *testing.T) {
	cases := map[string]int{
		"":     0,
		"ab":   1,
		"abcd": 1,
		"abcde": 2,
	}
	for s, want := range cases {
		if got := estimateTokens(s); got != want {
			t.Fatalf("estimateTokens(%q) = %d, want %d", s, got, want)
		}
	}
}

func TestJudgeScorePenalizesHallucinationAndInconsistency(t *testing.T) {
	clean := judgeScore(0.9, quality.ConsistencyResult{}, quality.HallucinationResult{Score: 0})
	if clean < 0.85 {
		t.Fatalf("expected a clean judge score near avgQuality, got %f", clean)
	}
	dirty := judgeScore(0.9, quality.ConsistencyResult{Issues: []string{"a", "b"}}, quality.HallucinationResult{Score: 0.8})
	if dirty >= clean {
		t.Fatalf("expected inconsistency/hallucination to pull quality down: clean=%f dirty=%f", clean, dirty)
	}
	if dirty < 0 || dirty > 1 {
		t.Fatalf("expected judge score clamped to [0,1], got %f", dirty)
	}
}

func TestEstimateQualityScoresEmptyTextZero(t *testing.T) {
	if q := estimateQuality("   "); q != 0 {
		t.Fatalf("expected 0 for blank text, got %f", q)
	}
	if q := estimateQuality("a clean, well formed sentence."); q <= 0 {
		t.Fatalf("expected positive quality for clean text, got %f", q)
	}
}

func TestUsedToolNamesFiltersToApprovedAndExecuted(t *testing.T) {
	outputs := []scratchpad.StageOutput{
		{StageName: "tool_gate:get_weather", Text: "72F"},
		{StageName: "specialist:docs", Text: "irrelevant"},
	}
	got := usedToolNames([]string{"get_weather", "get_calendar"}, outputs)
	if len(got) != 1 || got[0] != "get_weather" {
		t.Fatalf("expected only get_weather, got %v", got)
	}
}
