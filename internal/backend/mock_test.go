package backend

import (
	"context"
	"testing"

	"github.com/colliery-io/muninn/internal/types"
	"github.com/stretchr/testify/require"
)

func TestMockBackendReturnsQueuedResponsesInOrder(t *testing.T) {
	b := NewMockBackend(
		types.CompletionResponse{ID: "msg_1", StopReason: types.StopToolUse},
		types.CompletionResponse{ID: "msg_2", StopReason: types.StopEndTurn},
	)
	req := types.CompletionRequest{Model: "m", MaxTokens: 10}

	r1, err := b.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "msg_1", r1.ID)

	r2, err := b.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "msg_2", r2.ID)

	require.Len(t, b.Requests(), 2)
}

func TestMockBackendErrorsPastScriptedQueue(t *testing.T) {
	b := NewMockBackend(types.CompletionResponse{ID: "msg_1"})
	ctx := context.Background()
	req := types.CompletionRequest{Model: "m"}

	_, err := b.Complete(ctx, req)
	require.NoError(t, err)

	_, err = b.Complete(ctx, req)
	require.Error(t, err)
}

func TestMockBackendStreamEmitsFullEventSequenceForScenarioS6(t *testing.T) {
	b := NewMockBackend(types.CompletionResponse{
		ID:         "msg_1",
		Content:    []types.Block{types.Text{Text: "hello"}},
		StopReason: types.StopEndTurn,
		Usage:      types.Usage{InputTokens: 5, OutputTokens: 2},
	})

	var events []types.StreamEventType
	var text string
	err := b.Stream(context.Background(), types.CompletionRequest{}, func(ev types.StreamEvent) error {
		events = append(events, ev.Type)
		if ev.Type == types.EventContentBlockDelta {
			text += ev.ContentBlockDelta.Delta.Text
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "hello", text)

	require.Equal(t, types.EventMessageStart, events[0])
	require.Equal(t, types.EventContentBlockStart, events[1])
	require.Equal(t, types.EventContentBlockStop, events[len(events)-3])
	require.Equal(t, types.EventMessageDelta, events[len(events)-2])
	require.Equal(t, types.EventMessageStop, events[len(events)-1])
}
