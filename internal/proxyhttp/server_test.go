package proxyhttp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colliery-io/muninn/internal/backend"
	"github.com/colliery-io/muninn/internal/budget"
	"github.com/colliery-io/muninn/internal/engine"
	"github.com/colliery-io/muninn/internal/proxyhttp"
	"github.com/colliery-io/muninn/internal/router"
	"github.com/colliery-io/muninn/internal/telemetry"
	"github.com/colliery-io/muninn/internal/tools"
	"github.com/colliery-io/muninn/internal/types"
)

func newTestServer(t *testing.T, strategy router.Strategy, be backend.Backend, registry *tools.Registry, limits budget.Limits) *proxyhttp.Server {
	t.Helper()
	if registry == nil {
		registry = tools.NewRegistry(true)
	}
	tel := telemetry.NewNoopBundle()
	return proxyhttp.New(proxyhttp.Config{Addr: ":0"}, proxyhttp.Deps{
		Backend:       be,
		Router:        router.New(router.Options{Strategy: strategy}),
		Engine:        engine.New(registry, tel),
		DefaultLimits: limits,
		Telemetry:     tel,
	})
}

func postMessages(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, router.AlwaysPassthrough{}, backend.NewMockBackend(), nil, budget.DefaultLimits())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

// S2: a plain request with no muninn extension and no trigger routes to
// passthrough and returns the backend's response unchanged.
func TestPassthroughSuccess(t *testing.T) {
	be := backend.NewMockBackend(types.CompletionResponse{
		ID:         "msg_1",
		Model:      "claude-test",
		Role:       types.RoleAssistant,
		Content:    []types.Block{types.Text{Text: "hello there"}},
		StopReason: types.StopEndTurn,
		Usage:      types.Usage{InputTokens: 5, OutputTokens: 3},
	})
	s := newTestServer(t, router.AlwaysPassthrough{}, be, nil, budget.DefaultLimits())

	rec := postMessages(t, s.Handler(), `{"model":"claude-test","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp types.CompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Content, 1)
	text, ok := resp.Content[0].(types.Text)
	require.True(t, ok)
	assert.Equal(t, "hello there", text.Text)
	assert.Equal(t, types.StopEndTurn, resp.StopReason)
	assert.Nil(t, resp.Muninn)
}

// S3: an explicit "@muninn explore" trigger forces the RLM route even
// though the configured strategy would otherwise choose passthrough, and
// a scripted tool_use cycle executes before the run ends naturally.
func TestTextTriggerForcesRLM(t *testing.T) {
	registry := tools.NewRegistry(true)
	require.NoError(t, registry.Register(stubListTool{}))

	be := backend.NewMockBackend(
		types.CompletionResponse{
			ID: "msg_1", Model: "claude-test", Role: types.RoleAssistant,
			Content:    []types.Block{types.ToolUse{ID: "t1", Name: "list_directory", Input: map[string]any{}}},
			StopReason: types.StopToolUse,
			Usage:      types.Usage{InputTokens: 10, OutputTokens: 5},
		},
		types.CompletionResponse{
			ID: "msg_2", Model: "claude-test", Role: types.RoleAssistant,
			Content:    []types.Block{types.Text{Text: "found it"}},
			StopReason: types.StopEndTurn,
			Usage:      types.Usage{InputTokens: 12, OutputTokens: 4},
		},
	)
	s := newTestServer(t, router.AlwaysPassthrough{}, be, registry, budget.DefaultLimits())

	rec := postMessages(t, s.Handler(), `{"model":"claude-test","max_tokens":10,"messages":[{"role":"user","content":"@muninn explore find the thing"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp types.CompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Muninn)
	require.NotNil(t, resp.Muninn.Exploration)
	assert.Equal(t, types.TerminatedNatural, resp.Muninn.Exploration.TerminatedBy)
	assert.Equal(t, 2, len(be.Requests()))
}

// S4: a depth budget of 1 trips after a single tool_use cycle, rendering
// the budget_exceeded error envelope as an HTTP 200.
func TestDepthBudgetExceeded(t *testing.T) {
	be := backend.NewMockBackend(types.CompletionResponse{
		ID: "msg_1", Model: "claude-test", Role: types.RoleAssistant,
		Content:    []types.Block{types.ToolUse{ID: "t1", Name: "list_directory", Input: map[string]any{}}},
		StopReason: types.StopToolUse,
		Usage:      types.Usage{InputTokens: 10, OutputTokens: 5},
	})
	registry := tools.NewRegistry(true)
	require.NoError(t, registry.Register(stubListTool{}))
	limits := budget.DefaultLimits()
	limits.MaxDepth = 1
	s := newTestServer(t, router.AlwaysRlm{}, be, registry, limits)

	rec := postMessages(t, s.Handler(), `{"model":"claude-test","max_tokens":10,"messages":[{"role":"user","content":"explore the repo"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var errResp types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, types.ErrTypeBudgetExceeded, errResp.Error.Type)
}

// S5: a tool_use referencing a name the registry doesn't know becomes an
// is_error ToolResult, and the engine continues to a natural finish rather
// than aborting the request.
func TestUnknownToolBecomesErrorResult(t *testing.T) {
	be := backend.NewMockBackend(
		types.CompletionResponse{
			ID: "msg_1", Model: "claude-test", Role: types.RoleAssistant,
			Content:    []types.Block{types.ToolUse{ID: "t1", Name: "does_not_exist", Input: map[string]any{}}},
			StopReason: types.StopToolUse,
			Usage:      types.Usage{InputTokens: 10, OutputTokens: 5},
		},
		types.CompletionResponse{
			ID: "msg_2", Model: "claude-test", Role: types.RoleAssistant,
			Content:    []types.Block{types.Text{Text: "gave up gracefully"}},
			StopReason: types.StopEndTurn,
			Usage:      types.Usage{InputTokens: 8, OutputTokens: 4},
		},
	)
	s := newTestServer(t, router.AlwaysRlm{}, be, tools.NewRegistry(true), budget.DefaultLimits())

	rec := postMessages(t, s.Handler(), `{"model":"claude-test","max_tokens":10,"messages":[{"role":"user","content":"explore"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp types.CompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Muninn)
	require.NotNil(t, resp.Muninn.Exploration)
	assert.Equal(t, types.TerminatedNatural, resp.Muninn.Exploration.TerminatedBy)
}

// S6: a streaming RLM request re-emits the finished completion as an SSE
// event sequence.
func TestStreamingRLMReEmission(t *testing.T) {
	be := backend.NewMockBackend(types.CompletionResponse{
		ID: "msg_1", Model: "claude-test", Role: types.RoleAssistant,
		Content:    []types.Block{types.Text{Text: "streamed answer"}},
		StopReason: types.StopEndTurn,
		Usage:      types.Usage{InputTokens: 6, OutputTokens: 2},
	})
	s := newTestServer(t, router.AlwaysRlm{}, be, tools.NewRegistry(true), budget.DefaultLimits())

	rec := postMessages(t, s.Handler(), `{"model":"claude-test","max_tokens":10,"stream":true,"messages":[{"role":"user","content":"explore"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: message_start")
	assert.Contains(t, body, "event: content_block_delta")
	assert.Contains(t, body, "streamed answer")
	assert.Contains(t, body, "event: message_stop")
}

// blockingBackend holds Complete open until release is closed, so a test
// can pin one request in-flight while driving a second at the same server.
type blockingBackend struct {
	admitted chan struct{}
	release  chan struct{}
}

func (b *blockingBackend) Complete(ctx context.Context, _ types.CompletionRequest) (types.CompletionResponse, error) {
	close(b.admitted)
	select {
	case <-b.release:
	case <-ctx.Done():
		return types.CompletionResponse{}, ctx.Err()
	}
	return types.CompletionResponse{StopReason: types.StopEndTurn}, nil
}

func (b *blockingBackend) Stream(ctx context.Context, req types.CompletionRequest, emit func(types.StreamEvent) error) error {
	_, err := b.Complete(ctx, req)
	return err
}

func (b *blockingBackend) Name() string { return "blocking" }

// TestConcurrencyCeilingRejectsOverflow drives the real server past its
// admission ceiling end-to-end: one request occupies the sole concurrency
// slot by blocking inside the backend, and a second request made while the
// first is still in flight must be rejected with 503.
func TestConcurrencyCeilingRejectsOverflow(t *testing.T) {
	be := &blockingBackend{admitted: make(chan struct{}), release: make(chan struct{})}
	tel := telemetry.NewNoopBundle()
	s := proxyhttp.New(proxyhttp.Config{Addr: ":0", ConcurrencyLimit: 1}, proxyhttp.Deps{
		Backend:       be,
		Router:        router.New(router.Options{Strategy: router.AlwaysPassthrough{}}),
		Engine:        engine.New(tools.NewRegistry(true), tel),
		DefaultLimits: budget.DefaultLimits(),
		Telemetry:     tel,
	})

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		firstDone <- postMessages(t, s.Handler(), `{"model":"claude-test","max_tokens":10,"messages":[{"role":"user","content":"hold the slot"}]}`)
	}()

	select {
	case <-be.admitted:
	case <-time.After(time.Second):
		t.Fatal("first request never reached the backend")
	}

	rec := postMessages(t, s.Handler(), `{"model":"claude-test","max_tokens":10,"messages":[{"role":"user","content":"overflow"}]}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var errResp types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, types.ErrTypeOverloaded, errResp.Error.Type)

	close(be.release)
	select {
	case first := <-firstDone:
		require.Equal(t, http.StatusOK, first.Code)
	case <-time.After(time.Second):
		t.Fatal("first request never completed after release")
	}
}

func TestMalformedRequestReturns400(t *testing.T) {
	s := newTestServer(t, router.AlwaysPassthrough{}, backend.NewMockBackend(), nil, budget.DefaultLimits())
	rec := postMessages(t, s.Handler(), `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, types.ErrTypeInvalidRequest, errResp.Error.Type)
}

// stubListTool is a minimal tools.Tool double, independent of the builtin
// filesystem tools, so these tests don't touch the real filesystem.
type stubListTool struct{}

func (stubListTool) Name() string        { return "list_directory" }
func (stubListTool) Description() string { return "stub" }
func (stubListTool) InputSchema() map[string]any {
	return map[string]any{"type": "object"}
}
func (stubListTool) Execute(context.Context, any) (tools.ResultContent, error) {
	return tools.JSONResult([]string{"a.go", "b.go"}), nil
}
