// Package trace implements request-scoped structured tracing: one Collector
// per request, held in context so instrumentation points don't need to
// thread it explicitly, finalized into a RequestTrace and appended to a
// session's JSONL file.
package trace

import (
	"sync"
	"time"

	"github.com/colliery-io/muninn/internal/types"
)

// RouterDecision is the tracing contract the router emits for every
// decision it makes.
type RouterDecision struct {
	Route           string   `json:"route"`
	Rationale       []string `json:"rationale"`
	Confidence      float64  `json:"confidence"`
	CapturedRequest string   `json:"captured_request"`
	DurationMS      int64    `json:"duration_ms"`
}

// ToolTrace records one tool invocation within an RLM cycle.
type ToolTrace struct {
	Name       string `json:"name"`
	Arguments  any    `json:"arguments"`
	Result     string `json:"result"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// CycleTrace records one RLM engine cycle: the backend call plus the tool
// executions it triggered.
type CycleTrace struct {
	Depth        int         `json:"depth"`
	ResponseText string      `json:"response_text,omitempty"`
	StopReason   string      `json:"stop_reason"`
	InputTokens  int         `json:"input_tokens"`
	OutputTokens int         `json:"output_tokens"`
	DurationMS   int64       `json:"duration_ms"`
	Tools        []ToolTrace `json:"tools,omitempty"`
}

// RLMTrace aggregates every cycle of one RLM run.
type RLMTrace struct {
	Cycles       []CycleTrace        `json:"cycles"`
	TerminatedBy types.TerminatedBy  `json:"terminated_by"`
}

// RequestTrace is the structured record of one request's lifecycle,
// finalized on response write whether the request succeeded or failed. A
// trace exists for every HTTP request that reaches the router.
type RequestTrace struct {
	TraceID          string          `json:"trace_id"`
	Timestamp        time.Time       `json:"timestamp"`
	RouterDecision   *RouterDecision `json:"router_decision,omitempty"`
	RLMTrace         *RLMTrace       `json:"rlm_trace,omitempty"`
	TotalDurationMS  int64           `json:"total_duration_ms"`
	TerminatedByRoot types.TerminatedBy `json:"terminated_by,omitempty"`
}

// Collector accumulates one request's trace. Every method takes the
// collector's mutex, so it may be called from more than one goroutine; it
// never writes the trace anywhere itself — the caller hands the value
// returned by Finalize to a sink.
type Collector struct {
	mu        sync.Mutex
	traceID   string
	start     time.Time
	decision  *RouterDecision
	rlm       *RLMTrace
	curCycle  *CycleTrace
	cycleSpan time.Time
	finalized bool
	final     RequestTrace
}

// New constructs a Collector for one request, starting its wall-clock
// timer now.
func New(traceID string, now time.Time) *Collector {
	return &Collector{traceID: traceID, start: now}
}

// TraceID returns the collector's trace identifier.
func (c *Collector) TraceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.traceID
}

// RecordRouterDecision attaches the router's decision to the trace.
func (c *Collector) RecordRouterDecision(d RouterDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decision = &d
}

// StartRLMCycle begins recording a new engine cycle at the given depth.
func (c *Collector) StartRLMCycle(depth int, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rlm == nil {
		c.rlm = &RLMTrace{}
	}
	c.curCycle = &CycleTrace{Depth: depth}
	c.cycleSpan = now
}

// EndRLMCycle finalizes the in-progress cycle with the backend response
// observed, the tokens it reported, and the cycle's wall-clock timing.
func (c *Collector) EndRLMCycle(resp types.CompletionResponse, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.curCycle == nil {
		return
	}
	c.curCycle.ResponseText = types.ToText(blocksToAny(resp.Content))
	c.curCycle.StopReason = string(resp.StopReason)
	c.curCycle.InputTokens = resp.Usage.InputTokens
	c.curCycle.OutputTokens = resp.Usage.OutputTokens
	c.curCycle.DurationMS = now.Sub(c.cycleSpan).Milliseconds()
	c.rlm.Cycles = append(c.rlm.Cycles, *c.curCycle)
	c.curCycle = nil
}

func blocksToAny(blocks []types.Block) any {
	out := make([]any, len(blocks))
	for i, b := range blocks {
		out[i] = b
	}
	return out
}

// RecordToolCall appends a tool invocation record to the current cycle, or,
// when no cycle is in progress, to the most recently ended cycle (the engine
// ends a cycle before dispatching the tools its response requested).
func (c *Collector) RecordToolCall(tt ToolTrace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.curCycle != nil {
		c.curCycle.Tools = append(c.curCycle.Tools, tt)
		return
	}
	if c.rlm != nil && len(c.rlm.Cycles) > 0 {
		last := &c.rlm.Cycles[len(c.rlm.Cycles)-1]
		last.Tools = append(last.Tools, tt)
	}
}

// Finalize produces the immutable RequestTrace for this request. It is
// idempotent-safe to call once; a second call returns the same snapshot
// without mutating state further. A RequestTrace with a given trace_id is
// written exactly once.
func (c *Collector) Finalize(terminatedBy types.TerminatedBy, now time.Time) RequestTrace {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return c.final
	}
	if c.rlm != nil {
		c.rlm.TerminatedBy = terminatedBy
	}
	rt := RequestTrace{
		TraceID:          c.traceID,
		Timestamp:        c.start,
		RouterDecision:   c.decision,
		RLMTrace:         c.rlm,
		TotalDurationMS:  now.Sub(c.start).Milliseconds(),
		TerminatedByRoot: terminatedBy,
	}
	c.finalized = true
	c.final = rt
	return rt
}

// Finalized reports whether Finalize has already been called, letting the
// proxy front-end avoid writing the same trace twice.
func (c *Collector) Finalized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalized
}
