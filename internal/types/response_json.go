package types

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes a CompletionResponse, projecting Content through the
// same block discriminator Message uses.
func (r CompletionResponse) MarshalJSON() ([]byte, error) {
	type alias struct {
		ID         string             `json:"id"`
		Model      string             `json:"model"`
		Role       Role               `json:"role"`
		Content    []any              `json:"content"`
		StopReason StopReason         `json:"stop_reason"`
		Usage      Usage              `json:"usage"`
		Muninn     *MuninnResponseExt `json:"muninn,omitempty"`
	}
	content := make([]any, 0, len(r.Content))
	for i, blk := range r.Content {
		enc, err := encodeBlock(blk)
		if err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}
		content = append(content, enc)
	}
	role := r.Role
	if role == "" {
		role = RoleAssistant
	}
	return json.Marshal(alias{
		ID:         r.ID,
		Model:      r.Model,
		Role:       role,
		Content:    content,
		StopReason: r.StopReason,
		Usage:      r.Usage,
		Muninn:     r.Muninn,
	})
}

// UnmarshalJSON decodes a CompletionResponse, materializing concrete Block
// implementations from each content element's "type" discriminator.
func (r *CompletionResponse) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID         string              `json:"id"`
		Model      string              `json:"model"`
		Role       Role                `json:"role"`
		Content    []json.RawMessage   `json:"content"`
		StopReason StopReason          `json:"stop_reason"`
		Usage      Usage               `json:"usage"`
		Muninn     *MuninnResponseExt  `json:"muninn,omitempty"`
	}
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	content := make([]Block, 0, len(tmp.Content))
	for i, raw := range tmp.Content {
		blk, err := decodeBlock(raw)
		if err != nil {
			return fmt.Errorf("content[%d]: %w", i, err)
		}
		content = append(content, blk)
	}
	r.ID = tmp.ID
	r.Model = tmp.Model
	r.Role = tmp.Role
	r.Content = content
	r.StopReason = tmp.StopReason
	r.Usage = tmp.Usage
	r.Muninn = tmp.Muninn
	return nil
}
