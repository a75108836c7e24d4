// Package engine implements the RLM Engine: a bounded, recursive
// completion loop that interleaves LLM calls with tool executions under a
// strict budget. It is implemented as an explicit state machine — not via
// reentrant function calls — so the stack stays bounded and cancellation
// is clean.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colliery-io/muninn/internal/budget"
	"github.com/colliery-io/muninn/internal/muninnerr"
	"github.com/colliery-io/muninn/internal/telemetry"
	"github.com/colliery-io/muninn/internal/tools"
	"github.com/colliery-io/muninn/internal/trace"
	"github.com/colliery-io/muninn/internal/types"
)

// Backend is the narrow completion capability the engine depends on; it is
// the same method Complete exposes on the shared backend.Backend
// interface, restated here so this package doesn't need to import
// internal/backend (the engine only ever calls Complete, never Stream;
// streaming re-emission happens one layer up, in proxyhttp).
type Backend interface {
	Complete(ctx context.Context, req types.CompletionRequest) (types.CompletionResponse, error)
	Name() string
}

// Engine runs one RLM request to completion.
type Engine struct {
	registry  *tools.Registry
	telemetry telemetry.Bundle
}

// New constructs an Engine against a shared, process-wide tool registry.
func New(registry *tools.Registry, tel telemetry.Bundle) *Engine {
	return &Engine{registry: registry, telemetry: tel}
}

// Run executes the state machine for one request: it builds the initial
// ExplorationContext, loops CheckBudget → CallBackend → Dispatch until a
// terminal state is reached, and returns the synthesized
// CompletionResponse. The trace collector is read from ctx (task-local).
// A backend error is returned as a wrapped error with a zero
// CompletionResponse; cancellation returns the finalized partial response
// together with a canceled error; every other terminal state returns a
// response and a nil error.
func (e *Engine) Run(ctx context.Context, req types.CompletionRequest, be Backend, limits budget.Limits) (types.CompletionResponse, error) {
	start := time.Now()
	bm := budget.NewManager(limits, start)
	ec := newExplorationContext(req)
	collector := trace.FromContext(ctx)

	for {
		if reason, exceeded := bm.CheckPreCall(time.Now()); exceeded {
			return e.finalize(ec, bm, reason, start), nil
		}

		if err := ctx.Err(); err != nil {
			return e.finalize(ec, bm, types.TerminatedCanceled, start), muninnerr.NewCanceledError()
		}

		if collector != nil {
			collector.StartRLMCycle(bm.Depth(), time.Now())
		}
		cycleStart := time.Now()

		resp, err := be.Complete(ctx, ec.buildRequest())
		if err != nil {
			if collector != nil {
				collector.EndRLMCycle(types.CompletionResponse{StopReason: types.StopEndTurn}, time.Now())
			}
			return types.CompletionResponse{}, fmt.Errorf("engine: backend call failed: %w", err)
		}

		bm.RecordUsage(resp.Usage)
		ec.appendAssistant(resp.Content, resp.StopReason)

		if collector != nil {
			collector.EndRLMCycle(resp, time.Now())
		}
		e.telemetry.RecordCycleDuration(time.Since(cycleStart), string(resp.StopReason))

		switch resp.StopReason {
		case types.StopEndTurn, types.StopStopSequence:
			return e.finalize(ec, bm, types.TerminatedNatural, start), nil
		case types.StopMaxTokens:
			return e.finalize(ec, bm, types.TerminatedModelMaxTokens, start), nil
		case types.StopToolUse:
			toolUses := extractToolUses(resp.Content)
			results := e.dispatchTools(ctx, toolUses, collector)
			ec.appendToolResults(results)
			bm.RecordCycle(len(toolUses))
			continue
		default:
			// Unrecognized stop_reason: treat conservatively as a natural
			// stop rather than looping forever on an unknown signal.
			return e.finalize(ec, bm, types.TerminatedNatural, start), nil
		}
	}
}

func extractToolUses(content []types.Block) []types.ToolUse {
	var out []types.ToolUse
	for _, blk := range content {
		if tu, ok := blk.(types.ToolUse); ok {
			out = append(out, tu)
		}
	}
	return out
}

// dispatchTools executes each ToolUse block in order — tool execution
// within a single tool_use turn is sequential in block order — and
// returns the matching ToolResult blocks in the same order.
func (e *Engine) dispatchTools(ctx context.Context, toolUses []types.ToolUse, collector *trace.Collector) []types.Block {
	results := make([]types.Block, 0, len(toolUses))
	for _, tu := range toolUses {
		start := time.Now()
		result := e.dispatchOne(ctx, tu)
		duration := time.Since(start)

		results = append(results, result)
		tr := result.(types.ToolResult)
		e.telemetry.RecordToolCall(tu.Name, tr.IsError)
		if collector != nil {
			collector.RecordToolCall(trace.ToolTrace{
				Name:       tu.Name,
				Arguments:  tu.Input,
				Result:     types.ToText(tr.Content),
				Success:    !tr.IsError,
				DurationMS: duration.Milliseconds(),
			})
		}
	}
	return results
}

// dispatchOne executes a single tool invocation, converting an unknown
// tool, a validation failure, a reported error, or a recovered panic into
// an is_error=true ToolResult rather than ever letting a tool failure
// escape the engine.
func (e *Engine) dispatchOne(ctx context.Context, tu types.ToolUse) (result types.Block) {
	t, ok := e.registry.Lookup(tu.Name)
	if !ok {
		return types.ToolResult{ToolUseID: tu.ID, Content: fmt.Sprintf("unknown tool %s", tu.Name), IsError: true}
	}

	if err := e.registry.ValidateInput(tu.Name, tu.Input); err != nil {
		return types.ToolResult{ToolUseID: tu.ID, Content: err.Error(), IsError: true}
	}

	defer func() {
		if r := recover(); r != nil {
			te := muninnerr.Recovered(r)
			result = types.ToolResult{ToolUseID: tu.ID, Content: te.Error(), IsError: true}
		}
	}()

	rc, err := t.Execute(ctx, tu.Input)
	if err != nil {
		return types.ToolResult{ToolUseID: tu.ID, Content: err.Error(), IsError: true}
	}
	if rc.Kind == tools.ResultError {
		return types.ToolResult{ToolUseID: tu.ID, Content: rc.ErrMessage, IsError: true}
	}
	return types.ToolResult{ToolUseID: tu.ID, Content: resultContentToBlockContent(rc)}
}

// resultContentToBlockContent projects a tool's structured ResultContent
// down to the Content a ToolResult carries on the wire: text results
// become a plain string; a JSON result is marshaled to actual JSON text
// rather than Go's %v rendering, since the model reads it as JSON; a file
// result is rendered with its path and language alongside its contents, so
// the model knows what it read, not just what's in it.
func resultContentToBlockContent(rc tools.ResultContent) any {
	switch rc.Kind {
	case tools.ResultJSON:
		data, err := json.Marshal(rc.JSON)
		if err != nil {
			return fmt.Sprintf("%v", rc.JSON)
		}
		return string(data)
	case tools.ResultFile:
		lang := rc.FileLanguage
		if lang == "" {
			lang = "text"
		}
		return fmt.Sprintf("%s\n```%s\n%s\n```", rc.FilePath, lang, rc.FileContent)
	default:
		return rc.ToText()
	}
}

// finalize synthesizes the CompletionResponse: the last assistant turn's
// content, the natural-or-forced stop reason, accumulated usage, and the
// muninn.exploration metadata. stop_reason reflects the last backend reply
// verbatim when the run ended naturally or because the model itself hit
// max_tokens, since those are the model's own signal and not Muninn's; a
// budget-exceeded or canceled termination has no such signal to carry, so
// it falls back to end_turn.
func (e *Engine) finalize(ec *explorationContext, bm *budget.Manager, terminatedBy types.TerminatedBy, start time.Time) types.CompletionResponse {
	content := ec.lastAssistantContent()
	stopReason := types.StopEndTurn
	switch terminatedBy {
	case types.TerminatedNatural, types.TerminatedModelMaxTokens:
		stopReason = ec.lastStopReasonOrDefault(types.StopEndTurn)
	}
	return types.CompletionResponse{
		Model:      ec.model,
		Role:       types.RoleAssistant,
		Content:    content,
		StopReason: stopReason,
		Usage:      bm.Usage(),
		Muninn: &types.MuninnResponseExt{
			Exploration: &types.Exploration{
				DepthReached: bm.Depth(),
				TokensUsed:   bm.Usage().Total(),
				ToolCalls:    bm.ToolCalls(),
				TerminatedBy: terminatedBy,
				DurationMS:   time.Since(start).Milliseconds(),
			},
		},
	}
}
