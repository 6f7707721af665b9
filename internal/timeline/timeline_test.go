package timeline

import (
	"context"
	"testing"
)

func TestMemoryRecorderForTraceOrdersByRecording(t *testing.T) {
	m := NewMemoryRecorder()
	m.Record(StageRecord{TraceID: "t1", Stage: "conductor", Iteration: 1, Success: true})
	m.Record(StageRecord{TraceID: "t1", Stage: "judge", Iteration: 1, Success: false, FailureKind: "StageFailure"})
	m.Record(StageRecord{TraceID: "t2", Stage: "conductor", Iteration: 1, Success: true})

	got := m.ForTrace("t1")
	if len(got) != 2 {
		t.Fatalf("expected 2 records for t1, got %d", len(got))
	}
	if got[0].Stage != "conductor" || got[1].Stage != "judge" {
		t.Fatalf("expected conductor then judge, got %q then %q", got[0].Stage, got[1].Stage)
	}
	if got[1].FailureKind != "StageFailure" {
		t.Fatalf("expected StageFailure recorded, got %q", got[1].FailureKind)
	}
}

func TestMemoryRecorderForTraceReturnsCopy(t *testing.T) {
	m := NewMemoryRecorder()
	m.Record(StageRecord{TraceID: "t1", Stage: "conductor"})
	got := m.ForTrace("t1")
	got[0].Stage = "mutated"
	again := m.ForTrace("t1")
	if again[0].Stage != "conductor" {
		t.Fatalf("ForTrace leaked internal slice, mutation visible: %q", again[0].Stage)
	}
}

func TestMemoryRecorderUnknownTraceReturnsEmpty(t *testing.T) {
	m := NewMemoryRecorder()
	got := m.ForTrace("missing")
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
}

type countingRecorder struct {
	calls []StageRecord
}

func (c *countingRecorder) Record(rec StageRecord) {
	c.calls = append(c.calls, rec)
}

func TestMultiRecorderFansOutAndSkipsNil(t *testing.T) {
	a := &countingRecorder{}
	b := &countingRecorder{}
	multi := MultiRecorder{a, nil, b}
	multi.Record(StageRecord{TraceID: "t1", Stage: "conductor"})

	if len(a.calls) != 1 || len(b.calls) != 1 {
		t.Fatalf("expected both recorders to receive the record, got a=%d b=%d", len(a.calls), len(b.calls))
	}
}

func TestStartStageSpanRecordsOutcomeToSink(t *testing.T) {
	sink := NewMemoryRecorder()
	_, finish := StartStageSpan(context.Background(), sink, "trace-1", "conductor", 1)
	finish(true, "", 10, 20)

	got := sink.ForTrace("trace-1")
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	rec := got[0]
	if rec.Stage != "conductor" || !rec.Success || rec.TokensIn != 10 || rec.TokensOut != 20 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ElapsedMs < 0 {
		t.Fatalf("expected non-negative elapsed ms, got %d", rec.ElapsedMs)
	}
}

func TestStartStageSpanRecordsFailureKind(t *testing.T) {
	sink := NewMemoryRecorder()
	_, finish := StartStageSpan(context.Background(), sink, "trace-2", "judge", 2)
	finish(false, "StageFailure", 5, 0)

	got := sink.ForTrace("trace-2")
	if len(got) != 1 || got[0].FailureKind != "StageFailure" {
		t.Fatalf("expected StageFailure recorded, got %+v", got)
	}
}

func TestStartStageSpanToleratesNilSink(t *testing.T) {
	_, finish := StartStageSpan(context.Background(), nil, "trace-3", "voice", 1)
	finish(true, "", 1, 1)
}
