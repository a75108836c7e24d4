// Package sse renders the Anthropic-compatible text/event-stream wire
// format: encoding StreamEvents onto an io.Writer, and projecting a
// finished CompletionResponse into the event sequence a streaming caller
// expects when the final assistant message is re-emitted in one shot.
package sse

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/colliery-io/muninn/internal/types"
)

// Encode writes one SSE event to w in the `event: <type>\ndata: <json>\n\n`
// shape.
func Encode(w io.Writer, event types.StreamEvent) error {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return fmt.Errorf("sse: marshal %s payload: %w", event.Type, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return fmt.Errorf("sse: write %s event: %w", event.Type, err)
	}
	return nil
}

// Flusher is satisfied by http.ResponseWriter; kept as a narrow interface
// so this package doesn't import net/http.
type Flusher interface {
	Flush()
}

// EncodeAndFlush writes the event then flushes w if it implements Flusher,
// so the client observes each event as it's produced rather than buffered.
func EncodeAndFlush(w io.Writer, event types.StreamEvent) error {
	if err := Encode(w, event); err != nil {
		return err
	}
	if f, ok := w.(Flusher); ok {
		f.Flush()
	}
	return nil
}

// chunkSize bounds how much text a single content_block_delta carries, so
// long assistant replies render as one or more content_block_delta events
// rather than one giant line.
const chunkSize = 64

// RenderCompletionAsStream projects a finished CompletionResponse into the
// SSE event sequence used for both a re-emitted RLM result and
// MockBackend's simulated streaming: message_start, one
// content_block_start/deltas/content_block_stop per block (text deltas
// chunked), message_delta with final stop_reason/usage, then message_stop.
func RenderCompletionAsStream(resp types.CompletionResponse, emit func(types.StreamEvent) error) error {
	shell := resp
	shell.Content = nil
	shell.Usage = types.Usage{}
	if err := emit(types.StreamEvent{Type: types.EventMessageStart, MessageStart: &types.MessageStartPayload{Message: shell}}); err != nil {
		return err
	}

	for i, blk := range resp.Content {
		startPayload, err := types.NewContentBlockStartPayload(i, blk)
		if err != nil {
			return fmt.Errorf("sse: content_block_start[%d]: %w", i, err)
		}
		if err := emit(types.StreamEvent{Type: types.EventContentBlockStart, ContentBlockStart: &startPayload}); err != nil {
			return err
		}
		if err := emitBlockDeltas(i, blk, emit); err != nil {
			return fmt.Errorf("sse: content_block_delta[%d]: %w", i, err)
		}
		if err := emit(types.StreamEvent{Type: types.EventContentBlockStop, ContentBlockStop: &types.ContentBlockStopPayload{Index: i}}); err != nil {
			return err
		}
	}

	deltaPayload := &types.MessageDeltaPayload{Usage: resp.Usage}
	deltaPayload.Delta.StopReason = resp.StopReason
	if err := emit(types.StreamEvent{Type: types.EventMessageDelta, MessageDelta: deltaPayload}); err != nil {
		return err
	}
	return emit(types.StreamEvent{Type: types.EventMessageStop})
}

func emitBlockDeltas(index int, blk types.Block, emit func(types.StreamEvent) error) error {
	switch v := blk.(type) {
	case types.Text:
		return emitTextDeltas(index, v.Text, emit)
	case types.ToolUse:
		// A ToolUse block's input was already complete at content_block_start
		// time (the engine doesn't stream tool-call construction); no
		// deltas are needed to fill it in.
		return nil
	default:
		return fmt.Errorf("unsupported block type %T", blk)
	}
}

func emitTextDeltas(index int, text string, emit func(types.StreamEvent) error) error {
	if text == "" {
		return nil
	}
	for len(text) > 0 {
		n := chunkSize
		if n > len(text) {
			n = len(text)
		}
		chunk := text[:n]
		text = text[n:]
		if err := emit(types.StreamEvent{Type: types.EventContentBlockDelta, ContentBlockDelta: &types.ContentBlockDeltaPayload{
			Index: index,
			Delta: types.Delta{Type: types.DeltaText, Text: chunk},
		}}); err != nil {
			return err
		}
	}
	return nil
}

// RenderError emits a single error event followed by message_stop, the
// shape used for mid-stream failures.
func RenderError(errType, message string, emit func(types.StreamEvent) error) error {
	if err := emit(types.StreamEvent{Type: types.EventError, Error: &types.ErrorBody{Type: errType, Message: message}}); err != nil {
		return err
	}
	return emit(types.StreamEvent{Type: types.EventMessageStop})
}
