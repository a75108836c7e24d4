package budget

import (
	"testing"
	"time"

	"github.com/colliery-io/muninn/internal/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestResolveMergesPerRequestOverrideOverBase(t *testing.T) {
	base := DefaultLimits()
	maxDepth := 2
	cfg := &types.BudgetConfig{MaxDepth: &maxDepth}

	got := Resolve(base, cfg)
	require.Equal(t, 2, got.MaxDepth)
	require.Equal(t, base.MaxTokens, got.MaxTokens)
}

func TestResolveNilConfigReturnsBaseUnchanged(t *testing.T) {
	base := DefaultLimits()
	require.Equal(t, base, Resolve(base, nil))
}

// TestDepthBudgetTerminatesAfterExactlyMaxDepthCycles mirrors scenario S4:
// max_depth=2, the engine calls the backend twice, then CheckPreCall stops
// it before a third call, and depth_reached equals max_depth exactly.
func TestDepthBudgetTerminatesAfterExactlyMaxDepthCycles(t *testing.T) {
	now := time.Unix(0, 0)
	m := NewManager(Limits{MaxDepth: 2, MaxTokens: 1_000_000, MaxToolCalls: 1_000, MaxDurationSecs: 0}, now)

	reason, exceeded := m.CheckPreCall(now)
	require.False(t, exceeded, "reason=%v", reason)
	m.RecordCycle(1) // cycle 1

	reason, exceeded = m.CheckPreCall(now)
	require.False(t, exceeded, "reason=%v", reason)
	m.RecordCycle(1) // cycle 2

	reason, exceeded = m.CheckPreCall(now)
	require.True(t, exceeded)
	require.Equal(t, types.TerminatedDepth, reason)
	require.Equal(t, 2, m.Depth())
	require.LessOrEqual(t, m.Depth(), 2)
}

func TestTokenBudgetAllowsOneCycleOvershoot(t *testing.T) {
	now := time.Unix(0, 0)
	m := NewManager(Limits{MaxDepth: 1_000, MaxTokens: 100, MaxToolCalls: 1_000, MaxDurationSecs: 0}, now)

	// Under budget: no breach yet.
	m.RecordUsage(types.Usage{InputTokens: 90, OutputTokens: 5})
	_, exceeded := m.CheckPreCall(now)
	require.False(t, exceeded)

	// A final cycle's usage may push accumulated tokens past the cap; the
	// engine still completes that cycle, then the *next* pre-call check
	// stops it.
	m.RecordUsage(types.Usage{InputTokens: 20, OutputTokens: 0})
	reason, exceeded := m.CheckPreCall(now)
	require.True(t, exceeded)
	require.Equal(t, types.TerminatedTokens, reason)
}

func TestToolCallBudgetTerminatesAtCap(t *testing.T) {
	now := time.Unix(0, 0)
	m := NewManager(Limits{MaxDepth: 1_000, MaxTokens: 1_000_000, MaxToolCalls: 3, MaxDurationSecs: 0}, now)
	m.RecordCycle(3)
	reason, exceeded := m.CheckPreCall(now)
	require.True(t, exceeded)
	require.Equal(t, types.TerminatedToolCalls, reason)
}

func TestDurationBudgetTerminatesAfterDeadline(t *testing.T) {
	start := time.Unix(0, 0)
	m := NewManager(Limits{MaxDepth: 1_000, MaxTokens: 1_000_000, MaxToolCalls: 1_000, MaxDurationSecs: 1}, start)
	later := start.Add(2 * time.Second)
	reason, exceeded := m.CheckPreCall(later)
	require.True(t, exceeded)
	require.Equal(t, types.TerminatedDuration, reason)
}

// TestBudgetAccountingIsMonotonicProperty checks that across any sequence
// of RecordCycle calls, the manager's depth and tool-call counters never
// decrease.
func TestBudgetAccountingIsMonotonicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("depth and tool_calls never decrease across RecordCycle calls", prop.ForAll(
		func(cycles []int) bool {
			now := time.Unix(0, 0)
			m := NewManager(Limits{MaxDepth: 1_000_000, MaxTokens: 1_000_000_000, MaxToolCalls: 1_000_000, MaxDurationSecs: 0}, now)
			prevDepth, prevCalls := 0, 0
			for _, n := range cycles {
				if n < 0 {
					n = -n
				}
				m.RecordCycle(n)
				if m.Depth() < prevDepth || m.ToolCalls() < prevCalls {
					return false
				}
				prevDepth, prevCalls = m.Depth(), m.ToolCalls()
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	properties.TestingRun(t)
}
