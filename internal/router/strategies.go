package router

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/colliery-io/muninn/internal/backend"
	"github.com/colliery-io/muninn/internal/types"
)

// AlwaysPassthrough always decides Passthrough.
type AlwaysPassthrough struct{}

func (AlwaysPassthrough) Name() string { return "always-passthrough" }
func (AlwaysPassthrough) Decide(context.Context, types.CompletionRequest) Decision {
	return Decision{Route: Passthrough, Rationale: []string{"strategy=always-passthrough"}, Confidence: 1}
}

// AlwaysRlm always decides Rlm.
type AlwaysRlm struct{}

func (AlwaysRlm) Name() string { return "always-rlm" }
func (AlwaysRlm) Decide(context.Context, types.CompletionRequest) Decision {
	return Decision{Route: Rlm, Rationale: []string{"strategy=always-rlm"}, Confidence: 1}
}

// heuristicPatterns are the case-insensitive, whole-word keyword hints the
// Heuristic strategy matches against.
var heuristicPatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"explore", regexp.MustCompile(`(?i)\bexplore\b`)},
	{"find all", regexp.MustCompile(`(?i)\bfind all\b`)},
	{"understand", regexp.MustCompile(`(?i)\bunderstand\b`)},
	{"how does … work", regexp.MustCompile(`(?i)\bhow does\b.*\bwork\b`)},
	{"trace", regexp.MustCompile(`(?i)\btrace\b`)},
	{"callers of", regexp.MustCompile(`(?i)\bcallers of\b`)},
	{"implementations of", regexp.MustCompile(`(?i)\bimplementations of\b`)},
}

// Heuristic scans the last user text for keyword hints, forcing Rlm on a
// match and Passthrough otherwise.
type Heuristic struct{}

func (Heuristic) Name() string { return "heuristic" }
func (Heuristic) Decide(_ context.Context, req types.CompletionRequest) Decision {
	text := req.LastUserText()
	for _, p := range heuristicPatterns {
		if p.re.MatchString(text) {
			return Decision{Route: Rlm, Rationale: []string{"heuristic matched " + p.label}, Confidence: 0.7}
		}
	}
	return Decision{Route: Passthrough, Rationale: []string{"heuristic: no keyword matched"}, Confidence: 0.7}
}

const routeDecisionToolName = "route_decision"

// defaultRouterTimeout bounds how long the Llm strategy waits for the
// router model's tool call before falling back to Passthrough.
const defaultRouterTimeout = 2 * time.Second

// Llm calls a configured router backend/model with a single
// route_decision tool and uses the tool's argument to decide. On any
// failure it falls back to Passthrough.
type Llm struct {
	Backend backend.Backend
	Model   string
	Timeout time.Duration
	Cache   DecisionCache
}

// DecisionCache memoizes Llm-strategy decisions keyed by the model and the
// last user message's text, bounding repeated router-model calls. Implementations must be safe
// to call when unset/nil — Llm skips caching entirely in that case.
type DecisionCache interface {
	Get(ctx context.Context, key string) (Decision, bool)
	Set(ctx context.Context, key string, d Decision)
}

func (l Llm) Name() string { return "llm" }

func (l Llm) Decide(ctx context.Context, req types.CompletionRequest) Decision {
	key := cacheKey(req)
	if l.Cache != nil {
		if d, ok := l.Cache.Get(ctx, key); ok {
			d.Rationale = append(d.Rationale, "cache hit")
			return d
		}
	}

	timeout := l.Timeout
	if timeout <= 0 {
		timeout = defaultRouterTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := l.decide(callCtx, req)
	if l.Cache != nil && d.Route != "" {
		l.Cache.Set(ctx, key, d)
	}
	return d
}

func (l Llm) decide(ctx context.Context, req types.CompletionRequest) Decision {
	if l.Backend == nil {
		return Decision{Route: Passthrough, Rationale: []string{"llm strategy: no backend configured"}, Confidence: 0}
	}

	routerReq := types.CompletionRequest{
		Model:     l.Model,
		MaxTokens: 256,
		System:    "Decide whether this coding-agent request needs deep code exploration (rlm) or can be answered directly (passthrough). Call route_decision exactly once.",
		Messages:  req.Messages,
		Tools: []types.ToolDefinition{{
			Name:        routeDecisionToolName,
			Description: "Report the routing decision.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"route":  map[string]any{"type": "string", "enum": []any{"rlm", "passthrough"}},
					"reason": map[string]any{"type": "string"},
				},
				"required": []any{"route", "reason"},
			},
		}},
		ToolChoice: &types.ToolChoice{Type: "any"},
	}

	resp, err := l.Backend.Complete(ctx, routerReq)
	if err != nil {
		return Decision{Route: Passthrough, Rationale: []string{fmt.Sprintf("llm strategy: backend error: %v", err)}, Confidence: 0}
	}

	for _, blk := range resp.Content {
		tu, ok := blk.(types.ToolUse)
		if !ok || tu.Name != routeDecisionToolName {
			continue
		}
		args, ok := tu.Input.(map[string]any)
		if !ok {
			return Decision{Route: Passthrough, Rationale: []string{"llm strategy: malformed route_decision input"}, Confidence: 0}
		}
		routeStr, _ := args["route"].(string)
		reason, _ := args["reason"].(string)
		switch routeStr {
		case string(Rlm):
			return Decision{Route: Rlm, Rationale: []string{"llm decided rlm: " + reason}, Confidence: 0.9}
		case string(Passthrough):
			return Decision{Route: Passthrough, Rationale: []string{"llm decided passthrough: " + reason}, Confidence: 0.9}
		default:
			return Decision{Route: Passthrough, Rationale: []string{"llm strategy: unknown route value " + routeStr}, Confidence: 0}
		}
	}
	return Decision{Route: Passthrough, Rationale: []string{"llm strategy: no route_decision tool call in response"}, Confidence: 0}
}

func cacheKey(req types.CompletionRequest) string {
	return req.Model + "|" + req.LastUserText()
}
