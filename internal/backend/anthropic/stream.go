package anthropic

import (
	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/colliery-io/muninn/internal/types"
)

// chunkProcessor converts Anthropic streaming events into types.StreamEvent
// values, re-emitting each event as it arrives rather than buffering a full
// message first.
type chunkProcessor struct {
	emit func(types.StreamEvent) error

	stopReason types.StopReason
	usage      types.Usage
}

func newChunkProcessor(emit func(types.StreamEvent) error) *chunkProcessor {
	return &chunkProcessor{emit: emit}
}

func (p *chunkProcessor) handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		shell := types.CompletionResponse{
			ID:    ev.Message.ID,
			Model: string(ev.Message.Model),
			Role:  types.RoleAssistant,
		}
		return p.emit(types.StreamEvent{Type: types.EventMessageStart, MessageStart: &types.MessageStartPayload{Message: shell}})
	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		switch block := ev.ContentBlock.AsAny().(type) {
		case sdk.TextBlock:
			payload, err := types.NewContentBlockStartPayload(idx, types.Text{Text: ""})
			if err != nil {
				return err
			}
			return p.emit(types.StreamEvent{Type: types.EventContentBlockStart, ContentBlockStart: &payload})
		case sdk.ToolUseBlock:
			payload, err := types.NewContentBlockStartPayload(idx, types.ToolUse{ID: block.ID, Name: block.Name, Input: map[string]any{}})
			if err != nil {
				return err
			}
			return p.emit(types.StreamEvent{Type: types.EventContentBlockStart, ContentBlockStart: &payload})
		}
		return nil
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			return p.emit(types.StreamEvent{Type: types.EventContentBlockDelta, ContentBlockDelta: &types.ContentBlockDeltaPayload{
				Index: idx,
				Delta: types.Delta{Type: types.DeltaText, Text: delta.Text},
			}})
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			return p.emit(types.StreamEvent{Type: types.EventContentBlockDelta, ContentBlockDelta: &types.ContentBlockDeltaPayload{
				Index: idx,
				Delta: types.Delta{Type: types.DeltaInputJSON, PartialJSON: delta.PartialJSON},
			}})
		}
		return nil
	case sdk.ContentBlockStopEvent:
		return p.emit(types.StreamEvent{Type: types.EventContentBlockStop, ContentBlockStop: &types.ContentBlockStopPayload{Index: int(ev.Index)}})
	case sdk.MessageDeltaEvent:
		p.stopReason = types.StopReason(ev.Delta.StopReason)
		p.usage.InputTokens = int(ev.Usage.InputTokens)
		p.usage.OutputTokens = int(ev.Usage.OutputTokens)
		payload := &types.MessageDeltaPayload{Usage: p.usage}
		payload.Delta.StopReason = p.stopReason
		return p.emit(types.StreamEvent{Type: types.EventMessageDelta, MessageDelta: payload})
	case sdk.MessageStopEvent:
		return p.emit(types.StreamEvent{Type: types.EventMessageStop})
	}
	return nil
}
