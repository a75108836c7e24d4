package types

// ToolDefinition describes a tool the model may invoke, as exposed in a
// CompletionRequest's tools array.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolChoice constrains how the model selects among the offered tools.
// Type is one of "auto", "any", "tool", "none"; Name is set only for "tool".
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// BudgetConfig overrides the budget manager's defaults for a single
// request. All fields are optional; a zero value means "use the default".
type BudgetConfig struct {
	MaxDepth        *int `json:"max_depth,omitempty"`
	MaxTokens       *int `json:"max_tokens,omitempty"`
	MaxToolCalls    *int `json:"max_tool_calls,omitempty"`
	MaxDurationSecs *int `json:"max_duration_secs,omitempty"`
}

// MuninnRequestExt is the request-side `muninn` extension object. It is
// accepted when absent and ignored by clients that don't speak it.
type MuninnRequestExt struct {
	Recursive *bool         `json:"recursive,omitempty"`
	Budget    *BudgetConfig `json:"budget,omitempty"`
}

// CompletionRequest is the Anthropic Messages API request body, plus the
// optional Muninn extension.
type CompletionRequest struct {
	Model         string           `json:"model"`
	Messages      []Message        `json:"messages"`
	System        string           `json:"system,omitempty"`
	MaxTokens     int              `json:"max_tokens"`
	Temperature   *float64         `json:"temperature,omitempty"`
	TopP          *float64         `json:"top_p,omitempty"`
	StopSequences []string         `json:"stop_sequences,omitempty"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	ToolChoice    *ToolChoice      `json:"tool_choice,omitempty"`
	Stream        bool             `json:"stream,omitempty"`
	Muninn        *MuninnRequestExt `json:"muninn,omitempty"`
}

// LastUserText returns the to_text() projection of the last user message in
// the request, or "" if there is none. Used by the router's override and
// heuristic checks.
func (r CompletionRequest) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return ToText(r.Messages[i].Content)
		}
	}
	return ""
}

// WithoutMuninn returns a shallow copy of the request with the Muninn
// extension stripped, for forwarding to an upstream backend that doesn't
// know about it.
func (r CompletionRequest) WithoutMuninn() CompletionRequest {
	out := r
	out.Muninn = nil
	return out
}
