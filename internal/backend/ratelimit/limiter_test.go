package ratelimit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colliery-io/muninn/internal/backend"
	"github.com/colliery-io/muninn/internal/backend/ratelimit"
	"github.com/colliery-io/muninn/internal/muninnerr"
	"github.com/colliery-io/muninn/internal/types"
)

func TestWrapPassesThroughOnSuccess(t *testing.T) {
	be := backend.NewMockBackend(types.CompletionResponse{StopReason: types.StopEndTurn})
	limited := ratelimit.New(1_000_000, 1_000_000).Wrap(be)

	resp, err := limited.Complete(context.Background(), types.CompletionRequest{
		Model: "claude-test", MaxTokens: 10,
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, types.StopEndTurn, resp.StopReason)
}

func TestBackoffShrinksBudgetOnRateLimitError(t *testing.T) {
	be := backend.NewMockBackendWithErrors(
		[]types.CompletionResponse{{}},
		[]error{muninnerr.NewRateLimitError(5)},
	)
	l := ratelimit.New(1000, 1000)
	limited := l.Wrap(be)

	_, err := limited.Complete(context.Background(), types.CompletionRequest{
		Model: "claude-test", MaxTokens: 10,
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	require.Less(t, l.CurrentTPM(), 1000.0)
}

func TestProbeGrowsBudgetTowardCeilingOnSuccess(t *testing.T) {
	be := backend.NewMockBackend(
		types.CompletionResponse{StopReason: types.StopEndTurn},
		types.CompletionResponse{StopReason: types.StopEndTurn},
	)
	l := ratelimit.New(100, 1000)
	limited := l.Wrap(be)

	req := types.CompletionRequest{
		Model: "claude-test", MaxTokens: 10,
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	}
	_, err := limited.Complete(context.Background(), req)
	require.NoError(t, err)
	first := l.CurrentTPM()
	require.Greater(t, first, 100.0)

	_, err = limited.Complete(context.Background(), req)
	require.NoError(t, err)
	require.GreaterOrEqual(t, l.CurrentTPM(), first)
}

func TestNameDelegatesToWrappedBackend(t *testing.T) {
	be := backend.NewMockBackend()
	limited := ratelimit.New(1000, 1000).Wrap(be)
	require.Equal(t, "mock", limited.Name())
}
