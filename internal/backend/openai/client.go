// Package openai adapts the OpenAI Chat Completions API to the
// backend.Backend contract. Messages/tools/tool_choice are translated from
// Muninn's Anthropic-shaped wire types; multiple ToolUse blocks in one
// assistant turn become the parallel tool_calls array Chat Completions
// expects, and a ToolResult becomes its own "tool" role message.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/colliery-io/muninn/internal/muninnerr"
	"github.com/colliery-io/muninn/internal/types"
)

// ChatClient captures the subset of the OpenAI SDK client this adapter
// uses, satisfied by the real client's Chat.Completions service or a test
// double.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream
}

// ssestream is the subset of openai-go's streaming iterator this adapter
// drives; defined locally so ChatClient doesn't pin a generic instantiation.
type ssestream interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

// Client implements backend.Backend on top of OpenAI Chat Completions.
type Client struct {
	chat ChatClient
}

// New builds an OpenAI-backed Client from the given chat client.
func New(chat ChatClient) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	return &Client{chat: chat}, nil
}

// NewFromAPIKey constructs a Client using the default OpenAI HTTP client,
// configured from apiKey.
func NewFromAPIKey(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&chatCompletionsAdapter{svc: &cli.Chat.Completions})
}

// chatCompletionsAdapter narrows *openai.ChatCompletionService to ChatClient
// and wraps its streaming iterator behind the local ssestream interface.
type chatCompletionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a *chatCompletionsAdapter) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	return a.svc.New(ctx, body, opts...)
}

func (a *chatCompletionsAdapter) NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream {
	s := a.svc.NewStreaming(ctx, body, opts...)
	var iface ssestream = s
	return &iface
}

func (c *Client) Name() string { return "openai" }

// Complete issues a non-streaming Chat Completions call.
func (c *Client) Complete(ctx context.Context, req types.CompletionRequest) (types.CompletionResponse, error) {
	params, err := encodeRequest(req)
	if err != nil {
		return types.CompletionResponse{}, muninnerr.NewBadRequestError(err.Error())
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		return types.CompletionResponse{}, translateError(ctx, err)
	}
	return decodeCompletion(resp)
}

// Stream issues a streaming Chat Completions call, invoking emit once per
// translated StreamEvent.
func (c *Client) Stream(ctx context.Context, req types.CompletionRequest, emit func(types.StreamEvent) error) error {
	params, err := encodeRequest(req)
	if err != nil {
		return muninnerr.NewBadRequestError(err.Error())
	}
	stream := *c.chat.NewStreaming(ctx, *params)
	defer stream.Close()

	proc := newChunkProcessor(emit)
	for stream.Next() {
		if err := proc.handle(stream.Current()); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return translateError(ctx, err)
	}
	return proc.finish()
}

func translateError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return muninnerr.NewCanceledError()
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return muninnerr.NewAuthError(apiErr.Error())
		case 429:
			return muninnerr.NewRateLimitError(0)
		case 400, 422:
			return muninnerr.NewBadRequestError(apiErr.Error())
		default:
			if apiErr.StatusCode >= 500 {
				return muninnerr.NewUpstream5xxError(apiErr.StatusCode, apiErr.Error())
			}
		}
	}
	return muninnerr.NewNetworkError(fmt.Errorf("openai: %w", err))
}

func encodeRequest(req types.CompletionRequest) (*openai.ChatCompletionNewParams, error) {
	if req.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	msgs, err := encodeMessages(req)
	if err != nil {
		return nil, err
	}
	params := &openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if len(req.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(*req.ToolChoice)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = tc
	}
	return params, nil
}

// encodeMessages flattens Muninn's block-structured messages into Chat
// Completions' flat message list: a system string becomes one system
// message, each ToolUse in an assistant turn becomes an entry in that
// message's tool_calls, and each ToolResult becomes its own "tool" message
// keyed by tool_call_id.
func encodeMessages(req types.CompletionRequest) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		blocks := m.Blocks()
		switch m.Role {
		case types.RoleUser:
			for _, blk := range blocks {
				tr, ok := blk.(types.ToolResult)
				if !ok {
					continue
				}
				out = append(out, openai.ToolMessage(toolResultText(tr), tr.ToolUseID))
			}
			if text := textOf(blocks); text != "" {
				out = append(out, openai.UserMessage(text))
			}
		case types.RoleAssistant:
			text := textOf(blocks)
			var calls []openai.ChatCompletionMessageToolCallParam
			for _, blk := range blocks {
				tu, ok := blk.(types.ToolUse)
				if !ok {
					continue
				}
				args, err := json.Marshal(tu.Input)
				if err != nil {
					return nil, fmt.Errorf("openai: marshal tool_use %s input: %w", tu.ID, err)
				}
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: tu.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tu.Name,
						Arguments: string(args),
					},
				})
			}
			if text == "" && len(calls) == 0 {
				continue
			}
			asst := openai.AssistantMessage(text)
			if len(calls) > 0 {
				asst.OfAssistant.ToolCalls = calls
			}
			out = append(out, asst)
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one user/assistant message is required")
	}
	return out, nil
}

func textOf(blocks []types.Block) string {
	var b strings.Builder
	for _, blk := range blocks {
		if t, ok := blk.(types.Text); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

func toolResultText(tr types.ToolResult) string {
	switch c := tr.Content.(type) {
	case string:
		return c
	default:
		return types.ToText(c)
	}
}

func encodeTools(defs []types.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  shared.FunctionParameters(def.InputSchema),
			},
		})
	}
	return out
}

func encodeToolChoice(choice types.ToolChoice) (openai.ChatCompletionToolChoiceOptionUnionParam, error) {
	switch choice.Type {
	case "", "auto":
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}, nil
	case "none":
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}, nil
	case "any":
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}, nil
	case "tool":
		if choice.Name == "" {
			return openai.ChatCompletionToolChoiceOptionUnionParam{}, errors.New("openai: tool_choice type \"tool\" requires a name")
		}
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Name},
			},
		}, nil
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{}, fmt.Errorf("openai: unsupported tool_choice type %q", choice.Type)
	}
}

// decodeCompletion translates a Chat Completions response into Muninn's
// Anthropic-shaped CompletionResponse, collapsing the single first choice
// (Muninn never requests n>1).
func decodeCompletion(resp *openai.ChatCompletion) (types.CompletionResponse, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return types.CompletionResponse{}, errors.New("openai: empty choices in response")
	}
	choice := resp.Choices[0]
	out := types.CompletionResponse{
		ID:         resp.ID,
		Model:      resp.Model,
		Role:       types.RoleAssistant,
		StopReason: translateFinishReason(choice.FinishReason),
		Usage: types.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, types.Text{Text: choice.Message.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		var input any
		if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
			input = map[string]any{}
		}
		out.Content = append(out.Content, types.ToolUse{ID: call.ID, Name: call.Function.Name, Input: input})
	}
	return out, nil
}

func translateFinishReason(reason string) types.StopReason {
	switch reason {
	case "tool_calls":
		return types.StopToolUse
	case "length":
		return types.StopMaxTokens
	case "stop":
		return types.StopStopSequence
	default:
		return types.StopEndTurn
	}
}
