package types

// StreamEventType enumerates the SSE event names a Backend's stream()
// produces, mirroring Anthropic's streaming contract.
type StreamEventType string

const (
	EventMessageStart      StreamEventType = "message_start"
	EventContentBlockStart StreamEventType = "content_block_start"
	EventContentBlockDelta StreamEventType = "content_block_delta"
	EventContentBlockStop  StreamEventType = "content_block_stop"
	EventMessageDelta      StreamEventType = "message_delta"
	EventMessageStop       StreamEventType = "message_stop"
	EventPing              StreamEventType = "ping"
	EventError             StreamEventType = "error"
)

// DeltaType enumerates the two content_block_delta payload shapes.
type DeltaType string

const (
	DeltaText       DeltaType = "text_delta"
	DeltaInputJSON  DeltaType = "input_json_delta"
)

// Delta is the payload of a content_block_delta event. Exactly one of Text
// or PartialJSON is populated, selected by Type.
type Delta struct {
	Type        DeltaType `json:"type"`
	Text        string    `json:"text,omitempty"`
	PartialJSON string    `json:"partial_json,omitempty"`
}

// MessageStartPayload is the data payload of a message_start event: a
// response shell with empty content and zeroed output usage.
type MessageStartPayload struct {
	Message CompletionResponse `json:"message"`
}

// ContentBlockStartPayload is the data payload of a content_block_start
// event. ContentBlock carries the block's static fields (e.g. ToolUse's
// id/name with empty input) for the index being opened.
type ContentBlockStartPayload struct {
	Index        int `json:"index"`
	ContentBlock any `json:"content_block"`
}

// NewContentBlockStartPayload builds a ContentBlockStartPayload, encoding
// blk through the same discriminator encodeBlock uses elsewhere so the
// content_block field carries the wire "type" tag.
func NewContentBlockStartPayload(index int, blk Block) (ContentBlockStartPayload, error) {
	enc, err := encodeBlock(blk)
	if err != nil {
		return ContentBlockStartPayload{}, err
	}
	return ContentBlockStartPayload{Index: index, ContentBlock: enc}, nil
}

// ContentBlockDeltaPayload is the data payload of a content_block_delta
// event.
type ContentBlockDeltaPayload struct {
	Index int   `json:"index"`
	Delta Delta `json:"delta"`
}

// ContentBlockStopPayload is the data payload of a content_block_stop event.
type ContentBlockStopPayload struct {
	Index int `json:"index"`
}

// MessageDeltaPayload is the data payload of a message_delta event: the
// final stop_reason plus aggregated usage.
type MessageDeltaPayload struct {
	Delta struct {
		StopReason StopReason `json:"stop_reason"`
	} `json:"delta"`
	Usage Usage `json:"usage"`
}

// StreamEvent is one SSE event a Backend's stream() yields. Exactly one of
// the typed payload fields is populated, selected by Type.
type StreamEvent struct {
	Type StreamEventType

	MessageStart      *MessageStartPayload
	ContentBlockStart *ContentBlockStartPayload
	ContentBlockDelta *ContentBlockDeltaPayload
	ContentBlockStop  *ContentBlockStopPayload
	MessageDelta      *MessageDeltaPayload
	Error             *ErrorBody
}

// Payload returns the populated payload for the event's Type, for use by
// the SSE encoder.
func (e StreamEvent) Payload() any {
	switch e.Type {
	case EventMessageStart:
		return e.MessageStart
	case EventContentBlockStart:
		return e.ContentBlockStart
	case EventContentBlockDelta:
		return e.ContentBlockDelta
	case EventContentBlockStop:
		return e.ContentBlockStop
	case EventMessageDelta:
		return e.MessageDelta
	case EventError:
		return e.Error
	case EventMessageStop, EventPing:
		return struct{}{}
	default:
		return struct{}{}
	}
}
