// Package observability provides the trace-correlated logger and the
// payload-redaction helper shared by every LLM provider client and the
// file-mutating tools, so request/response logs can be joined to a span
// in R (the timeline/telemetry store) without each caller re-deriving the
// trace id.
package observability

import (
	"context"
	"encoding/json"
	"os"
	"regexp"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var baseLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// LoggerWithTrace returns a logger enriched with the active span's trace
// and span ids, so stage logs can be correlated against R's timeline
// without plumbing a *zerolog.Logger through every call site.
func LoggerWithTrace(ctx context.Context) zerolog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return baseLogger
	}
	return baseLogger.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
}

var secretKeyPattern = regexp.MustCompile(`(?i)^(api_?key|authorization|token|secret|password)$`)

// RedactJSON parses b as JSON and replaces the value of any object key
// that looks like a credential with "[redacted]", returning the
// re-marshaled bytes. Non-JSON or unparseable input is returned
// unchanged — redaction is best-effort, never a hard failure path.
func RedactJSON(b []byte) []byte {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return b
	}
	redacted := redactValue(v)
	out, err := json.Marshal(redacted)
	if err != nil {
		return b
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if secretKeyPattern.MatchString(k) {
				out[k] = "[redacted]"
				continue
			}
			out[k] = redactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}
