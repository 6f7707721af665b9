// Package timeline implements component R: per-stage span collection for
// the Brain-Chain Scheduler, recorded to an OTel tracer for export and,
// optionally, to a queryable sink (chstore.go) for the concrete
// scheduler.iterations / per-stage-outcome invariants spec.md §8 wants
// observable.
package timeline

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// tracerName identifies this process's spans to whatever TracerProvider the
// global otel API is wired to — the no-op provider by default, or a real one
// if an operator registers one via otel.SetTracerProvider (e.g. through
// auto-instrumentation driven by the standard OTEL_EXPORTER_OTLP_* env vars).
// This package never registers a provider or exporter itself.
var tracerName = "cogrouter"

// SetTracerName overrides the name stage spans are recorded under, typically
// from config.OTelConfig.ServiceName at startup.
func SetTracerName(name string) {
	if name != "" {
		tracerName = name
	}
}

// StageRecord is one stage's observed outcome within one request, the unit
// spec.md §7 calls for recording ("per-stage outcomes, counters, and
// timings are recorded by R").
type StageRecord struct {
	TraceID     string
	Stage       string
	Iteration   int
	Success     bool
	FailureKind string
	ElapsedMs   int64
	TokensIn    int
	TokensOut   int
	RecordedAt  time.Time
}

// Recorder accepts stage outcomes. Implementations must not block the
// scheduler meaningfully — a slow sink degrades observability, not request
// latency.
type Recorder interface {
	Record(rec StageRecord)
}

// MemoryRecorder is the default in-process sink: a per-trace append-only
// log, queryable for tests and for a request's own stage-timing summary.
type MemoryRecorder struct {
	mu      sync.Mutex
	byTrace map[string][]StageRecord
}

// NewMemoryRecorder returns an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{byTrace: make(map[string][]StageRecord)}
}

func (m *MemoryRecorder) Record(rec StageRecord) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byTrace[rec.TraceID] = append(m.byTrace[rec.TraceID], rec)
}

// ForTrace returns a copy of traceID's recorded stages, in recording order.
func (m *MemoryRecorder) ForTrace(traceID string) []StageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.byTrace[traceID]
	out := make([]StageRecord, len(recs))
	copy(out, recs)
	return out
}

// MultiRecorder fans a StageRecord out to every recorder in the slice —
// used to tee into both a MemoryRecorder (for in-process inspection) and a
// ClickHouseRecorder (for durable querying) from one call site.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(rec StageRecord) {
	for _, r := range m {
		if r != nil {
			r.Record(rec)
		}
	}
}

// StartStageSpan starts an OTel span for one stage's execution and returns
// a finish func that records both the span's end and rec's outcome into
// sink. Mirrors internal/llm/observability.go's StartRequestSpan shape.
func StartStageSpan(ctx context.Context, sink Recorder, traceID, stage string, iteration int) (context.Context, func(success bool, failureKind string, tokensIn, tokensOut int)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, stage)
	span.SetAttributes(
		attribute.String("cogrouter.trace_id", traceID),
		attribute.String("cogrouter.stage", stage),
		attribute.Int("cogrouter.iteration", iteration),
	)
	start := time.Now()
	return ctx, func(success bool, failureKind string, tokensIn, tokensOut int) {
		elapsed := time.Since(start)
		span.SetAttributes(attribute.Bool("cogrouter.success", success))
		if failureKind != "" {
			span.SetAttributes(attribute.String("cogrouter.failure_kind", failureKind))
		}
		span.End()
		if sink != nil {
			sink.Record(StageRecord{
				TraceID:     traceID,
				Stage:       stage,
				Iteration:   iteration,
				Success:     success,
				FailureKind: failureKind,
				ElapsedMs:   elapsed.Milliseconds(),
				TokensIn:    tokensIn,
				TokensOut:   tokensOut,
			})
		}
	}
}
