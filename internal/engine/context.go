package engine

import "github.com/colliery-io/muninn/internal/types"

// explorationContext owns the mutable conversation for one RLM run: the
// original system prompt, the running ordered message list, and the tools
// offered to the model; token usage is tracked by the budget manager, not
// here. The engine is its only writer; it never mutates earlier turns,
// only appends.
type explorationContext struct {
	system         string
	model          string
	maxTokens      int
	temperature    *float64
	topP           *float64
	stopSeqs       []string
	tools          []types.ToolDefinition
	messages       []types.Message
	lastStopReason types.StopReason
}

// newExplorationContext builds the initial context from the inbound
// request, copying its messages so later appends never alias the caller's
// slice.
func newExplorationContext(req types.CompletionRequest) *explorationContext {
	messages := make([]types.Message, len(req.Messages))
	copy(messages, req.Messages)
	return &explorationContext{
		system:      req.System,
		model:       req.Model,
		maxTokens:   req.MaxTokens,
		temperature: req.Temperature,
		topP:        req.TopP,
		stopSeqs:    req.StopSequences,
		tools:       req.Tools,
		messages:    messages,
	}
}

// appendAssistant appends an assistant turn and records the stop_reason the
// backend reported for it. Called once per cycle after a backend call
// returns.
func (c *explorationContext) appendAssistant(content []types.Block, stopReason types.StopReason) {
	c.messages = append(c.messages, types.Message{Role: types.RoleAssistant, Content: content})
	c.lastStopReason = stopReason
}

// appendToolResults appends one user turn carrying the ordered ToolResult
// blocks produced by a tool_use cycle, in the same order the model
// requested them.
func (c *explorationContext) appendToolResults(results []types.Block) {
	c.messages = append(c.messages, types.Message{Role: types.RoleUser, Content: results})
}

// buildRequest projects the context into the CompletionRequest sent to the
// backend. It is always constructed fresh — the engine never hands out a
// mutable reference to its own message slice.
func (c *explorationContext) buildRequest() types.CompletionRequest {
	messages := make([]types.Message, len(c.messages))
	copy(messages, c.messages)
	return types.CompletionRequest{
		Model:         c.model,
		Messages:      messages,
		System:        c.system,
		MaxTokens:     c.maxTokens,
		Temperature:   c.temperature,
		TopP:          c.topP,
		StopSequences: c.stopSeqs,
		Tools:         c.tools,
	}
}

// lastAssistantContent returns the content blocks of the most recent
// assistant turn, used by finalize to synthesize the response.
func (c *explorationContext) lastAssistantContent() []types.Block {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == types.RoleAssistant {
			blocks, _ := c.messages[i].Content.([]types.Block)
			return blocks
		}
	}
	return nil
}

// lastStopReasonOrDefault returns the stop_reason reported by the most
// recent backend reply, or def if no assistant turn has completed yet.
func (c *explorationContext) lastStopReasonOrDefault(def types.StopReason) types.StopReason {
	if c.lastStopReason == "" {
		return def
	}
	return c.lastStopReason
}
