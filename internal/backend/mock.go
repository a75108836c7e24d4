package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/colliery-io/muninn/internal/sse"
	"github.com/colliery-io/muninn/internal/types"
)

// MockBackend consumes a pre-scripted queue of CompletionResponses in
// order, for deterministic tests. Calls beyond the queue's length return
// an error rather than blocking, so a test that mis-scripts the number of
// expected cycles fails loudly.
type MockBackend struct {
	mu       sync.Mutex
	queue    []types.CompletionResponse
	errs     []error
	next     int
	requests []types.CompletionRequest
}

// NewMockBackend constructs a MockBackend that returns responses in order.
func NewMockBackend(responses ...types.CompletionResponse) *MockBackend {
	return &MockBackend{queue: responses}
}

// NewMockBackendWithErrors is like NewMockBackend but lets individual
// positions in the queue return an error instead of a response; errs[i]
// non-nil means the i-th call returns that error instead of queue[i].
func NewMockBackendWithErrors(responses []types.CompletionResponse, errs []error) *MockBackend {
	return &MockBackend{queue: responses, errs: errs}
}

// Requests returns every CompletionRequest passed to Complete, in call
// order, for assertions about what the engine sent upstream.
func (b *MockBackend) Requests() []types.CompletionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.CompletionRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

func (b *MockBackend) Complete(_ context.Context, req types.CompletionRequest) (types.CompletionResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, req)
	i := b.next
	b.next++

	if i < len(b.errs) && b.errs[i] != nil {
		return types.CompletionResponse{}, b.errs[i]
	}
	if i >= len(b.queue) {
		return types.CompletionResponse{}, fmt.Errorf("mock backend: call %d exceeds scripted queue of length %d", i, len(b.queue))
	}
	return b.queue[i], nil
}

// Stream renders the next scripted response as a StreamEvent sequence:
// message_start, one content_block_start/delta/stop per block, then
// message_delta/message_stop. Used by passthrough-streaming tests.
func (b *MockBackend) Stream(ctx context.Context, req types.CompletionRequest, emit func(types.StreamEvent) error) error {
	resp, err := b.Complete(ctx, req)
	if err != nil {
		return emit(types.StreamEvent{Type: types.EventError, Error: &types.ErrorBody{
			Type:    "api_error",
			Message: err.Error(),
		}})
	}
	return sse.RenderCompletionAsStream(resp, emit)
}

func (b *MockBackend) Name() string { return "mock" }
