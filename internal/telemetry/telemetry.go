// Package telemetry wires goa.design/clue/log and OpenTelemetry into the
// small Logger/Metrics/Tracer seams the engine and proxy front-end depend
// on. It covers single-process instrumentation; distributed tracing
// across instances is out of scope.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/colliery-io/muninn"

type (
	// Logger is the structured logging seam. Implementations must be safe
	// for concurrent use across request goroutines.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics is the counters/histograms seam used by the engine (cycle
	// durations, tool-call counts).
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts spans scoped to a request or a cycle.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is the subset of an OTEL span the core needs.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}

	// Bundle groups the three telemetry seams so they can be threaded
	// through the engine/router/proxy as a single value.
	Bundle struct {
		Log     Logger
		Metrics Metrics
		Tracer  Tracer
	}
)

// RecordCycleDuration records the engine's per-cycle backend-call timing
// histogram, tagged with the terminal stop reason observed for the cycle.
func (b Bundle) RecordCycleDuration(d time.Duration, stopReason string) {
	b.Metrics.RecordTimer("muninn.engine.cycle_duration", d, "stop_reason", stopReason)
}

// RecordRouteDecision increments a per-route counter of how many requests
// landed on each strategy outcome. The router does not call it.
func (b Bundle) RecordRouteDecision(route string) {
	b.Metrics.IncCounter("muninn.router.decisions", 1, "route", route)
}

// RecordToolCall increments the tool-invocation counter, tagged by tool
// name and whether it errored.
func (b Bundle) RecordToolCall(name string, isError bool) {
	errTag := "false"
	if isError {
		errTag = "true"
	}
	b.Metrics.IncCounter("muninn.tools.calls", 1, "tool", name, "error", errTag)
}
