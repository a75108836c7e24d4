// Package backend defines the Backend contract the engine and proxy depend
// on plus MockBackend, the deterministic test double. Concrete provider
// adapters live in the backend/anthropic, backend/openai, and
// backend/bedrock subpackages so the core itself never imports a provider
// SDK.
package backend

import (
	"context"

	"github.com/colliery-io/muninn/internal/types"
)

// Backend is the capability set {complete, stream, name} every LLM provider
// adapter realizes. No inheritance; dispatch is through the interface
// alone.
type Backend interface {
	// Complete performs a non-streaming completion.
	Complete(ctx context.Context, req types.CompletionRequest) (types.CompletionResponse, error)
	// Stream performs a streaming completion, invoking emit once per
	// ordered StreamEvent. Stream returns when the event sequence ends (at
	// or after message_stop) or ctx is canceled.
	Stream(ctx context.Context, req types.CompletionRequest, emit func(types.StreamEvent) error) error
	// Name identifies the backend in traces.
	Name() string
}
