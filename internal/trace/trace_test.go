package trace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/colliery-io/muninn/internal/types"
	"github.com/stretchr/testify/require"
)

func TestCollectorFinalizeProducesOneTracePerTraceID(t *testing.T) {
	now := time.Unix(0, 0)
	c := New("trace-1", now)
	c.RecordRouterDecision(RouterDecision{Route: "passthrough"})

	rt := c.Finalize(types.TerminatedNatural, now.Add(10*time.Millisecond))
	require.Equal(t, "trace-1", rt.TraceID)
	require.Equal(t, "passthrough", rt.RouterDecision.Route)
	require.True(t, c.Finalized())
}

func TestCollectorRLMCycleLifecycle(t *testing.T) {
	now := time.Unix(0, 0)
	c := New("trace-2", now)

	c.StartRLMCycle(0, now)
	c.RecordToolCall(ToolTrace{Name: "read_file", Success: true})
	c.EndRLMCycle(types.CompletionResponse{
		Content:    []types.Block{types.Text{Text: "done"}},
		StopReason: types.StopEndTurn,
		Usage:      types.Usage{InputTokens: 3, OutputTokens: 1},
	}, now.Add(5*time.Millisecond))

	rt := c.Finalize(types.TerminatedNatural, now.Add(6*time.Millisecond))
	require.NotNil(t, rt.RLMTrace)
	require.Len(t, rt.RLMTrace.Cycles, 1)
	require.Equal(t, "done", rt.RLMTrace.Cycles[0].ResponseText)
	require.Len(t, rt.RLMTrace.Cycles[0].Tools, 1)
	require.Equal(t, types.TerminatedNatural, rt.RLMTrace.TerminatedBy)
}

func TestContextRoundTripsCollector(t *testing.T) {
	c := New("trace-3", time.Unix(0, 0))
	ctx := WithCollector(context.Background(), c)
	require.Same(t, c, FromContext(ctx))
	require.Nil(t, FromContext(context.Background()))
}

func TestJSONLWriterAppendsOneLinePerTrace(t *testing.T) {
	dir := t.TempDir()
	w, err := NewJSONLWriter(dir, "sess-1")
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Write(RequestTrace{TraceID: "t1", Timestamp: time.Unix(0, 0)}))
	require.NoError(t, w.Write(RequestTrace{TraceID: "t2", Timestamp: time.Unix(0, 0)}))

	raw, err := os.ReadFile(filepath.Join(dir, ".muninn", "sessions", "sess-1", "traces.jsonl"))
	require.NoError(t, err)
	lines := splitNonEmptyLines(string(raw))
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"t1"`)
	require.Contains(t, lines[1], `"t2"`)
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

type failingSink struct{ calls int }

func (f *failingSink) Write(RequestTrace) error {
	f.calls++
	return errAlways
}

var errAlways = &sinkError{"sink failed"}

type sinkError struct{ msg string }

func (e *sinkError) Error() string { return e.msg }

func TestMultiSinkAttemptsAllSinksAndJoinsErrors(t *testing.T) {
	s1 := &failingSink{}
	s2 := &failingSink{}
	m := MultiSink{s1, s2}
	err := m.Write(RequestTrace{TraceID: "t1"})
	require.Error(t, err)
	require.Equal(t, 1, s1.calls)
	require.Equal(t, 1, s2.calls)
}
