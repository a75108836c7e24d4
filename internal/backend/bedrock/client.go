// Package bedrock adapts the AWS Bedrock Converse API to the backend.Backend
// contract. It splits system vs. conversational messages, encodes tool
// schemas into Bedrock's ToolConfiguration, sanitizes tool names to
// Bedrock's [a-zA-Z0-9_-]+ constraint, and translates Converse responses
// back into Muninn's Anthropic-shaped wire types.
package bedrock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/colliery-io/muninn/internal/muninnerr"
	"github.com/colliery-io/muninn/internal/types"
)

// RuntimeClient captures the subset of the AWS Bedrock runtime client this
// adapter uses, satisfied by *bedrockruntime.Client or a test double.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Client implements backend.Backend on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
}

// New builds a Bedrock-backed Client from the given runtime client.
func New(runtime RuntimeClient) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	return &Client{runtime: runtime}, nil
}

func (c *Client) Name() string { return "bedrock" }

// Complete issues a non-streaming Converse call.
func (c *Client) Complete(ctx context.Context, req types.CompletionRequest) (types.CompletionResponse, error) {
	parts, err := encodeRequest(req)
	if err != nil {
		return types.CompletionResponse{}, muninnerr.NewBadRequestError(err.Error())
	}
	out, err := c.runtime.Converse(ctx, parts.converseInput(req))
	if err != nil {
		return types.CompletionResponse{}, translateError(ctx, err)
	}
	return decodeConverseOutput(out, parts.provToCanon)
}

// Stream issues a ConverseStream call, invoking emit once per translated
// StreamEvent.
func (c *Client) Stream(ctx context.Context, req types.CompletionRequest, emit func(types.StreamEvent) error) error {
	parts, err := encodeRequest(req)
	if err != nil {
		return muninnerr.NewBadRequestError(err.Error())
	}
	out, err := c.runtime.ConverseStream(ctx, parts.converseStreamInput(req))
	if err != nil {
		return translateError(ctx, err)
	}
	stream := out.GetStream()
	defer stream.Close()

	proc := newChunkProcessor(emit, parts.provToCanon)
	for event := range stream.Events() {
		if err := proc.handle(event); err != nil {
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
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return muninnerr.NewRateLimitError(0)
		case "AccessDeniedException", "UnrecognizedClientException":
			return muninnerr.NewAuthError(apiErr.Error())
		case "ValidationException":
			return muninnerr.NewBadRequestError(apiErr.Error())
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.HTTPStatusCode() == 429:
			return muninnerr.NewRateLimitError(0)
		case respErr.HTTPStatusCode() >= 500:
			return muninnerr.NewUpstream5xxError(respErr.HTTPStatusCode(), respErr.Error())
		}
	}
	return muninnerr.NewNetworkError(fmt.Errorf("bedrock: %w", err))
}

// requestParts holds the Converse-shaped pieces derived from a
// CompletionRequest, plus the tool-name translation maps needed to map
// provider-visible names back to the names Muninn's tool registry knows.
type requestParts struct {
	messages    []brtypes.Message
	system      []brtypes.SystemContentBlock
	toolConfig  *brtypes.ToolConfiguration
	provToCanon map[string]string
}

func (p *requestParts) converseInput(req types.CompletionRequest) *bedrockruntime.ConverseInput {
	return &bedrockruntime.ConverseInput{
		ModelId:         aws.String(req.Model),
		Messages:        p.messages,
		System:          p.system,
		ToolConfig:      p.toolConfig,
		InferenceConfig: inferenceConfig(req),
	}
}

func (p *requestParts) converseStreamInput(req types.CompletionRequest) *bedrockruntime.ConverseStreamInput {
	return &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(req.Model),
		Messages:        p.messages,
		System:          p.system,
		ToolConfig:      p.toolConfig,
		InferenceConfig: inferenceConfig(req),
	}
}

func inferenceConfig(req types.CompletionRequest) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	if req.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}
	if req.Temperature != nil {
		cfg.Temperature = aws.Float32(float32(*req.Temperature))
	}
	if req.TopP != nil {
		cfg.TopP = aws.Float32(float32(*req.TopP))
	}
	if len(req.StopSequences) > 0 {
		cfg.StopSequences = req.StopSequences
	}
	return &cfg
}

func encodeRequest(req types.CompletionRequest) (*requestParts, error) {
	if req.Model == "" {
		return nil, errors.New("bedrock: model is required")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	parts := &requestParts{messages: msgs}
	if req.System != "" {
		parts.system = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	if len(req.Tools) > 0 {
		toolConfig, provToCanon, err := encodeTools(req.Tools, req.ToolChoice)
		if err != nil {
			return nil, err
		}
		parts.toolConfig = toolConfig
		parts.provToCanon = provToCanon
	}
	return parts, nil
}

func encodeMessages(msgs []types.Message) ([]brtypes.Message, error) {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]brtypes.ContentBlock, 0, 1)
		for _, blk := range m.Blocks() {
			switch v := blk.(type) {
			case types.Text:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case types.ToolUse:
				input, err := json.Marshal(v.Input)
				if err != nil {
					return nil, fmt.Errorf("bedrock: marshal tool_use %s input: %w", v.ID, err)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String(v.ID),
					Name:      aws.String(sanitizeToolName(v.Name)),
					Input:     decodeDocument(input),
				}})
			case types.ToolResult:
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: encodeToolResult(v)})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case types.RoleUser:
			role = brtypes.ConversationRoleUser
		case types.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
	}
	if len(out) == 0 {
		return nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeToolResult(v types.ToolResult) brtypes.ToolResultBlock {
	tr := brtypes.ToolResultBlock{ToolUseId: aws.String(v.ToolUseID)}
	if v.IsError {
		tr.Status = brtypes.ToolResultStatusError
	}
	var text string
	switch c := v.Content.(type) {
	case string:
		text = c
	default:
		text = types.ToText(c)
	}
	tr.Content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: text}}
	return tr
}

func encodeTools(defs []types.ToolDefinition, choice *types.ToolChoice) (*brtypes.ToolConfiguration, map[string]string, error) {
	toolList := make([]brtypes.Tool, 0, len(defs))
	provToCanon := make(map[string]string, len(defs))
	for _, def := range defs {
		sanitized := sanitizeToolName(def.Name)
		provToCanon[sanitized] = def.Name
		schemaDoc := toDocument(def.InputSchema)
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: schemaDoc},
		}})
	}
	cfg := &brtypes.ToolConfiguration{Tools: toolList}
	if choice != nil {
		switch choice.Type {
		case "", "auto":
		case "any":
			cfg.ToolChoice = &brtypes.ToolChoiceMemberAny{Value: brtypes.AnyToolChoice{}}
		case "tool":
			if choice.Name == "" {
				return nil, nil, errors.New("bedrock: tool_choice type \"tool\" requires a name")
			}
			cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(sanitizeToolName(choice.Name))}}
		case "none":
			// ToolConfiguration stays populated with no ToolChoice override; Bedrock
			// has no direct "none" equivalent, so callers rely on prompting.
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported tool_choice type %q", choice.Type)
		}
	}
	return cfg, provToCanon, nil
}

// sanitizeToolName maps a tool name to characters allowed by Bedrock's
// [a-zA-Z0-9_-]+ constraint, truncating and appending a stable hash suffix
// if the mapped name would exceed Bedrock's 64-character limit.
func sanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	const maxLen = 64
	const hashLen = 8

	allowed := true
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			allowed = false
		}
		if !allowed {
			break
		}
	}

	var sanitized string
	if allowed {
		sanitized = in
	} else {
		out := make([]rune, 0, len(in))
		for _, r := range in {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
				out = append(out, r)
			default:
				out = append(out, '_')
			}
		}
		sanitized = string(out)
	}

	if len(sanitized) <= maxLen {
		return sanitized
	}
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:hashLen]
	prefixLen := maxLen - (1 + hashLen)
	if prefixLen < 1 {
		prefixLen = 1
	}
	return sanitized[:prefixLen] + "_" + suffix
}

func toDocument(schema map[string]any) document.Interface {
	var v any = schema
	return document.NewLazyDocument(&v)
}

func decodeDocument(raw []byte) document.Interface {
	var decoded any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			decoded = map[string]any{}
		}
	}
	return document.NewLazyDocument(&decoded)
}

func decodeConverseOutput(out *bedrockruntime.ConverseOutput, provToCanon map[string]string) (types.CompletionResponse, error) {
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return types.CompletionResponse{}, errors.New("bedrock: converse response has no message output")
	}
	resp := types.CompletionResponse{
		Role:       types.RoleAssistant,
		StopReason: translateStopReason(out.StopReason),
	}
	if out.Usage != nil {
		resp.Usage = types.Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			resp.Content = append(resp.Content, types.Text{Text: v.Value})
		case *brtypes.ContentBlockMemberToolUse:
			name := aws.ToString(v.Value.Name)
			if canon, ok := provToCanon[name]; ok {
				name = canon
			}
			var input any
			if raw := decodeDocumentPayload(v.Value.Input); raw != nil {
				if err := json.Unmarshal(raw, &input); err != nil {
					input = map[string]any{}
				}
			} else {
				input = map[string]any{}
			}
			resp.Content = append(resp.Content, types.ToolUse{ID: aws.ToString(v.Value.ToolUseId), Name: name, Input: input})
		}
	}
	return resp, nil
}

func decodeDocumentPayload(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	raw, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil
	}
	return raw
}

func translateStopReason(reason brtypes.StopReason) types.StopReason {
	switch reason {
	case brtypes.StopReasonToolUse:
		return types.StopToolUse
	case brtypes.StopReasonMaxTokens:
		return types.StopMaxTokens
	case brtypes.StopReasonStopSequence:
		return types.StopStopSequence
	default:
		return types.StopEndTurn
	}
}
