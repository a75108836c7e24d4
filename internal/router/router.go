// Package router classifies each incoming request into Passthrough or
// Rlm: explicit overrides first, then one of several configurable
// strategies.
package router

import (
	"context"
	"regexp"
	"time"

	"github.com/colliery-io/muninn/internal/trace"
	"github.com/colliery-io/muninn/internal/types"
)

// Route is the classification outcome.
type Route string

const (
	Passthrough Route = "passthrough"
	Rlm         Route = "rlm"
)

// Strategy decides a Route for requests that didn't match an explicit
// override. Implementations must never fail the request — on any internal
// problem they return Passthrough with a rationale explaining why; the
// router never fails.
type Strategy interface {
	Name() string
	Decide(ctx context.Context, req types.CompletionRequest) Decision
}

// Decision is a Strategy's (or override's) classification, carrying the
// rationale the trace collector records.
type Decision struct {
	Route      Route
	Rationale  []string
	Confidence float64
}

// Router evaluates explicit overrides and then falls back to a configured
// Strategy.
type Router struct {
	strategy Strategy
	// captureLimit bounds how much of the last-user-message text is stored
	// in RouterDecision.CapturedRequest; 0 means no cap.
	captureLimit int
}

// Options configures a Router.
type Options struct {
	Strategy     Strategy
	CaptureLimit int
}

// New constructs a Router around the given strategy.
func New(opts Options) *Router {
	return &Router{strategy: opts.Strategy, captureLimit: opts.CaptureLimit}
}

var exploreTrigger = regexp.MustCompile(`(?m)^@muninn explore\b`)
var passthroughTrigger = regexp.MustCompile(`(?m)^@muninn passthrough\b`)

// Route classifies req, evaluating explicit overrides before the
// configured strategy, and returns both the Route and the RouterDecision
// the trace collector records.
func (r *Router) Route(ctx context.Context, req types.CompletionRequest) (Route, trace.RouterDecision) {
	start := time.Now()
	lastText := req.LastUserText()

	if d, ok := r.explicitOverride(req, lastText); ok {
		return d.Route, r.toTraceDecision(d, lastText, start)
	}

	var d Decision
	if r.strategy != nil {
		d = r.strategy.Decide(ctx, req)
	} else {
		d = Decision{Route: Passthrough, Rationale: []string{"no strategy configured"}, Confidence: 1}
	}
	return d.Route, r.toTraceDecision(d, lastText, start)
}

// explicitOverride evaluates the three explicit overrides, in order: (1)
// a set muninn.recursive flag wins over any text trigger (true forces Rlm,
// false forces Passthrough); (2)
// an "@muninn explore" trigger at the start of a line forces Rlm; (3) an
// "@muninn passthrough" trigger forces Passthrough.
func (r *Router) explicitOverride(req types.CompletionRequest, lastText string) (Decision, bool) {
	// An explicit muninn.recursive flag wins over any text trigger, in
	// either direction — true forces Rlm, false forces Passthrough, and
	// both short-circuit before the trigger regexes run.
	if req.Muninn != nil && req.Muninn.Recursive != nil {
		if *req.Muninn.Recursive {
			return Decision{Route: Rlm, Rationale: []string{"muninn.recursive=true"}, Confidence: 1}, true
		}
		return Decision{Route: Passthrough, Rationale: []string{"muninn.recursive=false"}, Confidence: 1}, true
	}
	if exploreTrigger.MatchString(lastText) {
		return Decision{Route: Rlm, Rationale: []string{"text trigger '@muninn explore'"}, Confidence: 1}, true
	}
	if passthroughTrigger.MatchString(lastText) {
		return Decision{Route: Passthrough, Rationale: []string{"text trigger '@muninn passthrough'"}, Confidence: 1}, true
	}
	return Decision{}, false
}

func (r *Router) toTraceDecision(d Decision, lastText string, start time.Time) trace.RouterDecision {
	captured := lastText
	if r.captureLimit > 0 && len(captured) > r.captureLimit {
		captured = captured[:r.captureLimit]
	}
	return trace.RouterDecision{
		Route:           string(d.Route),
		Rationale:       d.Rationale,
		Confidence:      d.Confidence,
		CapturedRequest: captured,
		DurationMS:      time.Since(start).Milliseconds(),
	}
}
