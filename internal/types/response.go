package types

// StopReason enumerates why a completion stopped producing content.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopToolUse      StopReason = "tool_use"
)

// TerminatedBy records why an RLM run stopped, surfaced in
// muninn.exploration.terminated_by.
type TerminatedBy string

const (
	TerminatedNatural        TerminatedBy = "natural"
	TerminatedModelMaxTokens TerminatedBy = "model_max_tokens"
	TerminatedDepth          TerminatedBy = "depth"
	TerminatedTokens         TerminatedBy = "tokens"
	TerminatedToolCalls      TerminatedBy = "tool_calls"
	TerminatedDuration       TerminatedBy = "duration"
	TerminatedCanceled       TerminatedBy = "canceled"
)

// Usage reports accumulated token counts, matching the Anthropic wire shape.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another Usage into u, matching the budget manager's
// monotonic accounting.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns the sum of input and output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Exploration is the muninn.exploration response metadata describing an
// RLM run's termination.
type Exploration struct {
	DepthReached int          `json:"depth_reached"`
	TokensUsed   int          `json:"tokens_used"`
	ToolCalls    int          `json:"tool_calls"`
	DurationMS   int64        `json:"duration_ms"`
	TerminatedBy TerminatedBy `json:"terminated_by"`
}

// MuninnResponseExt is the response-side `muninn` extension, present only
// when the route was Rlm.
type MuninnResponseExt struct {
	Exploration *Exploration `json:"exploration,omitempty"`
}

// CompletionResponse is the Anthropic Messages API response body, plus the
// optional Muninn extension.
type CompletionResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Role       Role               `json:"role"`
	Content    []Block            `json:"content"`
	StopReason StopReason         `json:"stop_reason"`
	Usage      Usage              `json:"usage"`
	Muninn     *MuninnResponseExt `json:"muninn,omitempty"`
}

// ErrorBody is the Anthropic-shaped error envelope used for both
// non-streaming error responses and the payload of an "error" SSE event.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorResponse wraps an ErrorBody the way non-streaming error responses are
// rendered on the wire: {"type":"error","error":{...}}.
type ErrorResponse struct {
	Type  string    `json:"type"`
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds the stable error envelope clients parse on failure.
func NewErrorResponse(errType, message string) ErrorResponse {
	return ErrorResponse{Type: "error", Error: ErrorBody{Type: errType, Message: message}}
}

// Stable error.type strings.
const (
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeAuthentication = "authentication_error"
	ErrTypeRateLimit      = "rate_limit_error"
	ErrTypeAPIError       = "api_error"
	ErrTypeOverloaded     = "overloaded"
	ErrTypeBudgetExceeded = "budget_exceeded"
)
