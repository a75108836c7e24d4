package bedrock

import (
	"fmt"

	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/colliery-io/muninn/internal/types"
)

// toolBlock records the tool_use_id and canonical name of a tool-use
// content block while it is open; input JSON fragments are forwarded as
// they arrive, not accumulated here.
type toolBlock struct {
	id   string
	name string
}

// chunkProcessor converts Bedrock ConverseStream events into
// types.StreamEvent values, translating Bedrock's content-block index into
// Muninn's and mapping sanitized tool names back to the names the tool
// registry knows.
type chunkProcessor struct {
	emit        func(types.StreamEvent) error
	provToCanon map[string]string

	toolBlocks map[int]*toolBlock
	stopReason types.StopReason
	usage      types.Usage
}

func newChunkProcessor(emit func(types.StreamEvent) error, provToCanon map[string]string) *chunkProcessor {
	return &chunkProcessor{emit: emit, provToCanon: provToCanon, toolBlocks: map[int]*toolBlock{}}
}

func (p *chunkProcessor) handle(event brtypes.ConverseStreamOutput) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		return p.emit(types.StreamEvent{Type: types.EventMessageStart, MessageStart: &types.MessageStartPayload{
			Message: types.CompletionResponse{Role: types.RoleAssistant},
		}})
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		start, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse)
		if !ok {
			return nil
		}
		id := strOrEmpty(start.Value.ToolUseId)
		name := strOrEmpty(start.Value.Name)
		if canon, ok := p.provToCanon[name]; ok {
			name = canon
		}
		p.toolBlocks[idx] = &toolBlock{id: id, name: name}
		payload, err := types.NewContentBlockStartPayload(idx, types.ToolUse{ID: id, Name: name, Input: map[string]any{}})
		if err != nil {
			return err
		}
		return p.emit(types.StreamEvent{Type: types.EventContentBlockStart, ContentBlockStart: &payload})
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value == "" {
				return nil
			}
			return p.emit(types.StreamEvent{Type: types.EventContentBlockDelta, ContentBlockDelta: &types.ContentBlockDeltaPayload{
				Index: idx,
				Delta: types.Delta{Type: types.DeltaText, Text: delta.Value},
			}})
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if delta.Value.Input == nil || *delta.Value.Input == "" {
				return nil
			}
			return p.emit(types.StreamEvent{Type: types.EventContentBlockDelta, ContentBlockDelta: &types.ContentBlockDeltaPayload{
				Index: idx,
				Delta: types.Delta{Type: types.DeltaInputJSON, PartialJSON: *delta.Value.Input},
			}})
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		delete(p.toolBlocks, idx)
		return p.emit(types.StreamEvent{Type: types.EventContentBlockStop, ContentBlockStop: &types.ContentBlockStopPayload{Index: idx}})
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		p.stopReason = translateStopReason(ev.Value.StopReason)
		return nil
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage != nil {
			p.usage = types.Usage{
				InputTokens:  int(int32Value(ev.Value.Usage.InputTokens)),
				OutputTokens: int(int32Value(ev.Value.Usage.OutputTokens)),
			}
		}
		payload := &types.MessageDeltaPayload{Usage: p.usage}
		payload.Delta.StopReason = p.stopReason
		if err := p.emit(types.StreamEvent{Type: types.EventMessageDelta, MessageDelta: payload}); err != nil {
			return err
		}
		return p.emit(types.StreamEvent{Type: types.EventMessageStop})
	}
	return nil
}

func contentIndex(idx *int32) (int, error) {
	if idx == nil {
		return 0, fmt.Errorf("bedrock stream: missing content block index")
	}
	return int(*idx), nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func int32Value(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
