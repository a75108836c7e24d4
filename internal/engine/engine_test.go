package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/colliery-io/muninn/internal/budget"
	"github.com/colliery-io/muninn/internal/telemetry"
	"github.com/colliery-io/muninn/internal/tools"
	"github.com/colliery-io/muninn/internal/trace"
	"github.com/colliery-io/muninn/internal/types"
)

// scriptedBackend is a minimal engine.Backend double, independent of
// internal/backend, so this package's tests don't import back up the
// dependency graph.
type scriptedBackend struct {
	queue []types.CompletionResponse
	errs  []error
	calls int
}

func (b *scriptedBackend) Complete(_ context.Context, _ types.CompletionRequest) (types.CompletionResponse, error) {
	i := b.calls
	b.calls++
	if i < len(b.errs) && b.errs[i] != nil {
		return types.CompletionResponse{}, b.errs[i]
	}
	if i >= len(b.queue) {
		panic("scriptedBackend: call exceeds scripted queue")
	}
	return b.queue[i], nil
}

func (b *scriptedBackend) Name() string { return "scripted" }

func baseRequest() types.CompletionRequest {
	return types.CompletionRequest{
		Model:     "claude-test",
		MaxTokens: 256,
		Messages: []types.Message{
			{Role: types.RoleUser, Content: "explore the repo"},
		},
	}
}

// TestNaturalTerminationAfterToolUseCycle mirrors S3: one tool_use cycle
// executes, the registry resolves the tool successfully, and the second
// cycle's end_turn stop reason ends the run with TerminatedNatural.
func TestNaturalTerminationAfterToolUseCycle(t *testing.T) {
	registry := tools.NewRegistry(true)
	require.NoError(t, registry.Register(stubTool{}))
	eng := New(registry, telemetry.NewNoopBundle())

	be := &scriptedBackend{queue: []types.CompletionResponse{
		{
			Content:    []types.Block{types.ToolUse{ID: "t1", Name: "stub_tool", Input: map[string]any{}}},
			StopReason: types.StopToolUse,
			Usage:      types.Usage{InputTokens: 10, OutputTokens: 5},
		},
		{
			Content:    []types.Block{types.Text{Text: "done"}},
			StopReason: types.StopEndTurn,
			Usage:      types.Usage{InputTokens: 12, OutputTokens: 3},
		},
	}}

	resp, err := eng.Run(context.Background(), baseRequest(), be, budget.DefaultLimits())
	require.NoError(t, err)
	require.NotNil(t, resp.Muninn)
	require.NotNil(t, resp.Muninn.Exploration)
	require.Equal(t, types.TerminatedNatural, resp.Muninn.Exploration.TerminatedBy)
	require.Equal(t, 1, resp.Muninn.Exploration.DepthReached)
	require.Equal(t, 2, be.calls)
	require.Len(t, resp.Content, 1)
	text, ok := resp.Content[0].(types.Text)
	require.True(t, ok)
	require.Equal(t, "done", text.Text)
}

// TestStopSequenceTerminationPreservesStopReason confirms a natural
// termination on stop_sequence carries that exact stop_reason through to
// the synthesized response, rather than being rewritten to end_turn.
func TestStopSequenceTerminationPreservesStopReason(t *testing.T) {
	registry := tools.NewRegistry(true)
	eng := New(registry, telemetry.NewNoopBundle())

	be := &scriptedBackend{queue: []types.CompletionResponse{
		{
			Content:    []types.Block{types.Text{Text: "stopped early"}},
			StopReason: types.StopStopSequence,
			Usage:      types.Usage{InputTokens: 4, OutputTokens: 2},
		},
	}}

	resp, err := eng.Run(context.Background(), baseRequest(), be, budget.DefaultLimits())
	require.NoError(t, err)
	require.Equal(t, types.TerminatedNatural, resp.Muninn.Exploration.TerminatedBy)
	require.Equal(t, types.StopStopSequence, resp.StopReason)
}

// TestModelMaxTokensTerminationReportsConsistentStopReason confirms that
// when the model itself runs out of output tokens, both terminated_by and
// stop_reason agree (model_max_tokens / max_tokens) rather than stop_reason
// being overwritten to end_turn.
func TestModelMaxTokensTerminationReportsConsistentStopReason(t *testing.T) {
	registry := tools.NewRegistry(true)
	eng := New(registry, telemetry.NewNoopBundle())

	be := &scriptedBackend{queue: []types.CompletionResponse{
		{
			Content:    []types.Block{types.Text{Text: "truncat"}},
			StopReason: types.StopMaxTokens,
			Usage:      types.Usage{InputTokens: 4, OutputTokens: 256},
		},
	}}

	resp, err := eng.Run(context.Background(), baseRequest(), be, budget.DefaultLimits())
	require.NoError(t, err)
	require.Equal(t, types.TerminatedModelMaxTokens, resp.Muninn.Exploration.TerminatedBy)
	require.Equal(t, types.StopMaxTokens, resp.StopReason)
}

// TestDepthBudgetStopsAfterExactlyOneCycle mirrors S4: with MaxDepth=1, a
// single scripted tool_use cycle completes (RecordCycle bumps depth to 1
// only after the cycle finishes), and the *next* CheckPreCall — at the top
// of the second loop iteration — trips before a second backend call is
// made.
func TestDepthBudgetStopsAfterExactlyOneCycle(t *testing.T) {
	registry := tools.NewRegistry(true)
	require.NoError(t, registry.Register(stubTool{}))
	eng := New(registry, telemetry.NewNoopBundle())

	be := &scriptedBackend{queue: []types.CompletionResponse{
		{
			Content:    []types.Block{types.ToolUse{ID: "t1", Name: "stub_tool", Input: map[string]any{}}},
			StopReason: types.StopToolUse,
			Usage:      types.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}}

	limits := budget.DefaultLimits()
	limits.MaxDepth = 1
	resp, err := eng.Run(context.Background(), baseRequest(), be, limits)
	require.NoError(t, err)
	require.Equal(t, 1, be.calls, "a second backend call must never happen once depth has reached MaxDepth")
	require.NotNil(t, resp.Muninn)
	require.Equal(t, types.TerminatedDepth, resp.Muninn.Exploration.TerminatedBy)
	require.Equal(t, 1, resp.Muninn.Exploration.DepthReached)
}

// TestUnknownToolProducesErrorResultAndContinues mirrors S5: a tool_use
// naming a tool absent from the registry becomes an is_error ToolResult,
// never escapes Run as an error, and the engine proceeds to the next
// cycle.
func TestUnknownToolProducesErrorResultAndContinues(t *testing.T) {
	registry := tools.NewRegistry(true)
	eng := New(registry, telemetry.NewNoopBundle())

	be := &scriptedBackend{queue: []types.CompletionResponse{
		{
			Content:    []types.Block{types.ToolUse{ID: "t1", Name: "does_not_exist", Input: map[string]any{}}},
			StopReason: types.StopToolUse,
			Usage:      types.Usage{InputTokens: 8, OutputTokens: 2},
		},
		{
			Content:    []types.Block{types.Text{Text: "recovered"}},
			StopReason: types.StopEndTurn,
			Usage:      types.Usage{InputTokens: 6, OutputTokens: 2},
		},
	}}

	resp, err := eng.Run(context.Background(), baseRequest(), be, budget.DefaultLimits())
	require.NoError(t, err)
	require.Equal(t, types.TerminatedNatural, resp.Muninn.Exploration.TerminatedBy)
	require.Equal(t, 2, be.calls)
}

// TestCollectorReceivesRLMCyclesAndToolCalls confirms the task-local trace
// collector observes both backend cycles, tagged by depth, and the tool
// call dispatched between them.
func TestCollectorReceivesRLMCyclesAndToolCalls(t *testing.T) {
	registry := tools.NewRegistry(true)
	require.NoError(t, registry.Register(stubTool{}))
	eng := New(registry, telemetry.NewNoopBundle())

	be := &scriptedBackend{queue: []types.CompletionResponse{
		{
			Content:    []types.Block{types.ToolUse{ID: "t1", Name: "stub_tool", Input: map[string]any{}}},
			StopReason: types.StopToolUse,
			Usage:      types.Usage{InputTokens: 10, OutputTokens: 5},
		},
		{
			Content:    []types.Block{types.Text{Text: "done"}},
			StopReason: types.StopEndTurn,
			Usage:      types.Usage{InputTokens: 12, OutputTokens: 3},
		},
	}}

	collector := trace.New("trace-1", time.Now())
	ctx := trace.WithCollector(context.Background(), collector)
	_, err := eng.Run(ctx, baseRequest(), be, budget.DefaultLimits())
	require.NoError(t, err)

	rt := collector.Finalize(types.TerminatedNatural, time.Now())
	require.NotNil(t, rt.RLMTrace)
	require.Len(t, rt.RLMTrace.Cycles, 2)
	require.Len(t, rt.RLMTrace.Cycles[0].Tools, 1)
	require.Equal(t, "stub_tool", rt.RLMTrace.Cycles[0].Tools[0].Name)
	require.True(t, rt.RLMTrace.Cycles[0].Tools[0].Success)
}

// TestBackendErrorNeverProducesAResponse confirms a backend failure surfaces
// as a Go error from Run rather than a synthesized CompletionResponse,
// since the proxy front-end — not the engine — decides how an upstream
// failure gets rendered on the wire.
func TestBackendErrorNeverProducesAResponse(t *testing.T) {
	registry := tools.NewRegistry(true)
	eng := New(registry, telemetry.NewNoopBundle())
	be := &scriptedBackend{errs: []error{errors.New("boom")}}

	resp, err := eng.Run(context.Background(), baseRequest(), be, budget.DefaultLimits())
	require.Error(t, err)
	require.Equal(t, types.CompletionResponse{}, resp)
}

// TestDepthNeverExceedsMaxDepthAcrossToolUseCycles checks that across any
// number of scripted tool_use cycles, the depth the engine reports never
// exceeds MaxDepth.
func TestDepthNeverExceedsMaxDepthAcrossToolUseCycles(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("depth_reached never exceeds MaxDepth across any number of scripted tool_use cycles", prop.ForAll(
		func(maxDepth, scriptedCycles int) bool {
			registry := tools.NewRegistry(true)
			_ = registry.Register(stubTool{})
			eng := New(registry, telemetry.NewNoopBundle())

			queue := make([]types.CompletionResponse, 0, scriptedCycles+1)
			for i := 0; i < scriptedCycles; i++ {
				queue = append(queue, types.CompletionResponse{
					Content:    []types.Block{types.ToolUse{ID: "t", Name: "stub_tool", Input: map[string]any{}}},
					StopReason: types.StopToolUse,
					Usage:      types.Usage{InputTokens: 1, OutputTokens: 1},
				})
			}
			queue = append(queue, types.CompletionResponse{
				Content:    []types.Block{types.Text{Text: "done"}},
				StopReason: types.StopEndTurn,
				Usage:      types.Usage{InputTokens: 1, OutputTokens: 1},
			})
			be := &scriptedBackend{queue: queue}

			limits := budget.Limits{MaxDepth: maxDepth, MaxTokens: 1_000_000, MaxToolCalls: 1_000_000, MaxDurationSecs: 0}
			resp, err := eng.Run(context.Background(), baseRequest(), be, limits)
			if err != nil {
				return false
			}
			return resp.Muninn.Exploration.DepthReached <= maxDepth
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

// TestResultContentToBlockContentRendersValidJSON confirms a JSON tool
// result is marshaled to actual JSON text, not Go's %v rendering, so a
// slice or map comes through with proper quoting and ordering the model
// can parse.
func TestResultContentToBlockContentRendersValidJSON(t *testing.T) {
	out := resultContentToBlockContent(tools.JSONResult([]string{"a.go", "b.go"}))
	require.Equal(t, `["a.go","b.go"]`, out)

	out = resultContentToBlockContent(tools.JSONResult(map[string]any{"ok": true}))
	require.Equal(t, `{"ok":true}`, out)
}

// TestResultContentToBlockContentIncludesFileMetadata confirms a file tool
// result carries its path and language alongside its contents, rather than
// discarding that metadata at the engine/wire boundary.
func TestResultContentToBlockContentIncludesFileMetadata(t *testing.T) {
	out := resultContentToBlockContent(tools.FileResult("internal/engine/engine.go", "package engine", "go"))
	text, ok := out.(string)
	require.True(t, ok)
	require.Contains(t, text, "internal/engine/engine.go")
	require.Contains(t, text, "```go")
	require.Contains(t, text, "package engine")
}

// stubTool is a minimal tools.Tool double used across this package's
// tests, independent of internal/tools/builtin.
type stubTool struct{}

func (stubTool) Name() string        { return "stub_tool" }
func (stubTool) Description() string { return "stub" }
func (stubTool) InputSchema() map[string]any {
	return map[string]any{"type": "object"}
}
func (stubTool) Execute(context.Context, any) (tools.ResultContent, error) {
	return tools.JSONResult(map[string]any{"ok": true}), nil
}
