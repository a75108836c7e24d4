package openai

import (
	"github.com/openai/openai-go"

	"github.com/colliery-io/muninn/internal/types"
)

// chunkProcessor converts OpenAI Chat Completions streaming chunks into
// types.StreamEvent values. Chat Completions has no message_start/
// content_block_start framing of its own, so the processor synthesizes
// Anthropic-shaped start/stop events around the first chunk that carries
// content, keeping exactly one open content block per tool_call index plus
// one for the text channel.
type chunkProcessor struct {
	emit func(types.StreamEvent) error

	started    bool
	textOpen   bool
	toolIndex  map[int64]int // OpenAI tool_call index -> our content_block index
	nextIndex  int
	stopReason types.StopReason
	usage      types.Usage
}

func newChunkProcessor(emit func(types.StreamEvent) error) *chunkProcessor {
	return &chunkProcessor{emit: emit, toolIndex: map[int64]int{}}
}

func (p *chunkProcessor) handle(chunk openai.ChatCompletionChunk) error {
	if !p.started {
		p.started = true
		shell := types.CompletionResponse{ID: chunk.ID, Model: chunk.Model, Role: types.RoleAssistant}
		if err := p.emit(types.StreamEvent{Type: types.EventMessageStart, MessageStart: &types.MessageStartPayload{Message: shell}}); err != nil {
			return err
		}
	}
	if chunk.Usage.TotalTokens > 0 {
		p.usage.InputTokens = int(chunk.Usage.PromptTokens)
		p.usage.OutputTokens = int(chunk.Usage.CompletionTokens)
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != "" {
		p.stopReason = translateFinishReason(choice.FinishReason)
	}
	if err := p.handleText(choice.Delta.Content); err != nil {
		return err
	}
	for _, tc := range choice.Delta.ToolCalls {
		if err := p.handleToolCall(tc); err != nil {
			return err
		}
	}
	return nil
}

func (p *chunkProcessor) handleText(text string) error {
	if text == "" {
		return nil
	}
	if !p.textOpen {
		p.textOpen = true
		idx := p.nextIndex
		p.nextIndex++
		payload, err := types.NewContentBlockStartPayload(idx, types.Text{Text: ""})
		if err != nil {
			return err
		}
		if err := p.emit(types.StreamEvent{Type: types.EventContentBlockStart, ContentBlockStart: &payload}); err != nil {
			return err
		}
		p.toolIndex[-1] = idx // sentinel: text channel occupies this content-block index
	}
	return p.emit(types.StreamEvent{Type: types.EventContentBlockDelta, ContentBlockDelta: &types.ContentBlockDeltaPayload{
		Index: p.toolIndex[-1],
		Delta: types.Delta{Type: types.DeltaText, Text: text},
	}})
}

func (p *chunkProcessor) handleToolCall(tc openai.ChatCompletionChunkChoiceDeltaToolCall) error {
	idx, ok := p.toolIndex[tc.Index]
	if !ok {
		idx = p.nextIndex
		p.nextIndex++
		p.toolIndex[tc.Index] = idx
		payload, err := types.NewContentBlockStartPayload(idx, types.ToolUse{ID: tc.ID, Name: tc.Function.Name, Input: map[string]any{}})
		if err != nil {
			return err
		}
		if err := p.emit(types.StreamEvent{Type: types.EventContentBlockStart, ContentBlockStart: &payload}); err != nil {
			return err
		}
	}
	if tc.Function.Arguments == "" {
		return nil
	}
	return p.emit(types.StreamEvent{Type: types.EventContentBlockDelta, ContentBlockDelta: &types.ContentBlockDeltaPayload{
		Index: idx,
		Delta: types.Delta{Type: types.DeltaInputJSON, PartialJSON: tc.Function.Arguments},
	}})
}

// finish closes every open content block and emits the terminal
// message_delta/message_stop pair. Chat Completions has no explicit
// content_block_stop event, so this is deferred to stream end.
func (p *chunkProcessor) finish() error {
	for _, idx := range p.toolIndex {
		if err := p.emit(types.StreamEvent{Type: types.EventContentBlockStop, ContentBlockStop: &types.ContentBlockStopPayload{Index: idx}}); err != nil {
			return err
		}
	}
	payload := &types.MessageDeltaPayload{Usage: p.usage}
	payload.Delta.StopReason = p.stopReason
	if err := p.emit(types.StreamEvent{Type: types.EventMessageDelta, MessageDelta: payload}); err != nil {
		return err
	}
	return p.emit(types.StreamEvent{Type: types.EventMessageStop})
}
