package types

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes a Message, projecting Content into either a bare
// string or an array of discriminated content blocks depending on what the
// caller stored.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias struct {
		Role    Role `json:"role"`
		Content any  `json:"content"`
	}
	enc, err := encodeContent(m.Content)
	if err != nil {
		return nil, fmt.Errorf("encode message content: %w", err)
	}
	return json.Marshal(alias{Role: m.Role, Content: enc})
}

// UnmarshalJSON decodes a Message, materializing concrete Block
// implementations from the "type" discriminator on each array element, or
// leaving Content as a plain string when the wire value was a string.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	m.Role = tmp.Role
	content, err := decodeContent(tmp.Content)
	if err != nil {
		return fmt.Errorf("decode message content: %w", err)
	}
	m.Content = content
	return nil
}

// encodeContent projects a Content value (string or []Block) into a value
// that encoding/json can serialize to the Anthropic wire shape.
func encodeContent(content any) (any, error) {
	switch v := content.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case []Block:
		out := make([]any, 0, len(v))
		for i, blk := range v {
			enc, err := encodeBlock(blk)
			if err != nil {
				return nil, fmt.Errorf("block[%d]: %w", i, err)
			}
			out = append(out, enc)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported content value of type %T", content)
	}
}

func encodeBlock(blk Block) (any, error) {
	switch v := blk.(type) {
	case Text:
		return struct {
			Type string `json:"type"`
			Text
		}{Type: "text", Text: v}, nil
	case ToolUse:
		return struct {
			Type string `json:"type"`
			ToolUse
		}{Type: "tool_use", ToolUse: v}, nil
	case ToolResult:
		resultContent, err := encodeToolResultContent(v.Content)
		if err != nil {
			return nil, err
		}
		return struct {
			Type      string `json:"type"`
			ToolUseID string `json:"tool_use_id"`
			Content   any    `json:"content"`
			IsError   bool   `json:"is_error,omitempty"`
		}{Type: "tool_result", ToolUseID: v.ToolUseID, Content: resultContent, IsError: v.IsError}, nil
	default:
		return nil, fmt.Errorf("unknown block type %T", blk)
	}
}

// encodeToolResultContent mirrors encodeContent but accepts the looser
// content shape ToolResult.Content allows (string or []Block).
func encodeToolResultContent(content any) (any, error) {
	if content == nil {
		return nil, nil
	}
	return encodeContent(content)
}

// decodeContent parses a raw JSON content value into either a string or an
// ordered []Block, depending on whether the wire value is a string or array.
func decodeContent(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return s, nil
	case '[':
		var rawBlocks []json.RawMessage
		if err := json.Unmarshal(raw, &rawBlocks); err != nil {
			return nil, err
		}
		blocks := make([]Block, 0, len(rawBlocks))
		for i, rb := range rawBlocks {
			blk, err := decodeBlock(rb)
			if err != nil {
				return nil, fmt.Errorf("blocks[%d]: %w", i, err)
			}
			blocks = append(blocks, blk)
		}
		return blocks, nil
	default:
		return nil, fmt.Errorf("content must be a string or array, got %q", raw)
	}
}

func decodeBlock(raw json.RawMessage) (Block, error) {
	var disc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil {
		return nil, err
	}
	switch disc.Type {
	case "text":
		var t Text
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, err
		}
		return t, nil
	case "tool_use":
		var tu ToolUse
		if err := json.Unmarshal(raw, &tu); err != nil {
			return nil, err
		}
		return tu, nil
	case "tool_result":
		var wire struct {
			ToolUseID string          `json:"tool_use_id"`
			Content   json.RawMessage `json:"content"`
			IsError   bool            `json:"is_error,omitempty"`
		}
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, err
		}
		content, err := decodeContent(wire.Content)
		if err != nil {
			return nil, fmt.Errorf("tool_result content: %w", err)
		}
		return ToolResult{ToolUseID: wire.ToolUseID, Content: content, IsError: wire.IsError}, nil
	default:
		return nil, fmt.Errorf("unknown content block type %q", disc.Type)
	}
}
