// Package anthropic adapts the Anthropic Claude Messages API to the
// backend.Backend contract, translating CompletionRequest/Response
// directly since Muninn's own wire shape already mirrors Anthropic's.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/colliery-io/muninn/internal/muninnerr"
	"github.com/colliery-io/muninn/internal/types"
)

// MessagesClient captures the subset of the Anthropic SDK client this
// adapter uses, satisfied by *sdk.MessageService or a test double.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client implements backend.Backend on top of Anthropic Claude Messages.
type Client struct {
	msg MessagesClient
}

// New builds an Anthropic-backed Client from the given Messages client.
func New(msg MessagesClient) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	return &Client{msg: msg}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP client,
// configured from apiKey.
func NewFromAPIKey(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages)
}

func (c *Client) Name() string { return "anthropic" }

// Complete issues a non-streaming Messages.New call.
func (c *Client) Complete(ctx context.Context, req types.CompletionRequest) (types.CompletionResponse, error) {
	params, err := encodeRequest(req)
	if err != nil {
		return types.CompletionResponse{}, muninnerr.NewBadRequestError(err.Error())
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return types.CompletionResponse{}, translateError(ctx, err)
	}
	return decodeMessage(msg)
}

// Stream issues a streaming Messages.New call, invoking emit once per
// translated StreamEvent.
func (c *Client) Stream(ctx context.Context, req types.CompletionRequest, emit func(types.StreamEvent) error) error {
	params, err := encodeRequest(req)
	if err != nil {
		return muninnerr.NewBadRequestError(err.Error())
	}
	stream := c.msg.NewStreaming(ctx, *params)
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
	return nil
}

func translateError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return muninnerr.NewCanceledError()
	}
	var apiErr *sdk.Error
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
	return muninnerr.NewNetworkError(fmt.Errorf("anthropic: %w", err))
}

func encodeRequest(req types.CompletionRequest) (*sdk.MessageNewParams, error) {
	if req.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params := &sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = sdk.Float(*req.TopP)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
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

func encodeMessages(msgs []types.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, 1)
		for _, blk := range m.Blocks() {
			switch v := blk.(type) {
			case types.Text:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case types.ToolUse:
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Input, v.Name))
			case types.ToolResult:
				blocks = append(blocks, encodeToolResult(v))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case types.RoleUser:
			out = append(out, sdk.NewUserMessage(blocks...))
		case types.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeToolResult(v types.ToolResult) sdk.ContentBlockParamUnion {
	var content string
	switch c := v.Content.(type) {
	case nil:
		content = ""
	case string:
		content = c
	default:
		content = types.ToText(c)
	}
	return sdk.NewToolResultBlock(v.ToolUseID, content, v.IsError)
}

func encodeTools(defs []types.ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := sdk.ToolInputSchemaParam{ExtraFields: def.InputSchema}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

func encodeToolChoice(choice types.ToolChoice) (sdk.ToolChoiceUnionParam, error) {
	switch choice.Type {
	case "", "auto":
		return sdk.ToolChoiceUnionParam{}, nil
	case "none":
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case "any":
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case "tool":
		if choice.Name == "" {
			return sdk.ToolChoiceUnionParam{}, errors.New("anthropic: tool_choice type \"tool\" requires a name")
		}
		return sdk.ToolChoiceParamOfTool(choice.Name), nil
	default:
		return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: unsupported tool_choice type %q", choice.Type)
	}
}

func decodeMessage(msg *sdk.Message) (types.CompletionResponse, error) {
	if msg == nil {
		return types.CompletionResponse{}, errors.New("anthropic: nil response message")
	}
	resp := types.CompletionResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Role:       types.RoleAssistant,
		StopReason: types.StopReason(msg.StopReason),
		Usage: types.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case sdk.TextBlock:
			resp.Content = append(resp.Content, types.Text{Text: v.Text})
		case sdk.ToolUseBlock:
			var input any
			if err := json.Unmarshal(v.Input, &input); err != nil {
				input = map[string]any{}
			}
			resp.Content = append(resp.Content, types.ToolUse{ID: v.ID, Name: v.Name, Input: input})
		}
	}
	return resp, nil
}
