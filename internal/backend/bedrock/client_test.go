package bedrock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/colliery-io/muninn/internal/types"
)

type mockRuntime struct {
	output    *bedrockruntime.ConverseOutput
	err       error
	lastInput *bedrockruntime.ConverseInput
}

func (m *mockRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.lastInput = params
	if m.err != nil {
		return nil, m.err
	}
	return m.output, nil
}

func (m *mockRuntime) ConverseStream(context.Context, *bedrockruntime.ConverseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, nil
}

func textReq(text string) types.CompletionRequest {
	return types.CompletionRequest{
		Model:     "anthropic.claude-3-sonnet",
		MaxTokens: 100,
		Messages:  []types.Message{{Role: types.RoleUser, Content: text}},
	}
}

func TestCompleteTranslatesTextAndToolUse(t *testing.T) {
	mock := &mockRuntime{output: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "hello"},
				&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String("call_1"),
					Name:      aws.String("read_file"),
					Input:     document.NewLazyDocument(&map[string]any{"path": "a.go"}),
				}},
			},
		}},
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(10),
			OutputTokens: aws.Int32(5),
		},
		StopReason: brtypes.StopReasonToolUse,
	}}
	c, err := New(mock)
	require.NoError(t, err)

	req := textReq("read a.go")
	req.Tools = []types.ToolDefinition{{Name: "read_file", Description: "reads a file", InputSchema: map[string]any{"type": "object"}}}

	resp, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, types.StopToolUse, resp.StopReason)
	require.Len(t, resp.Content, 2)
	require.Equal(t, types.Text{Text: "hello"}, resp.Content[0])
	tu, ok := resp.Content[1].(types.ToolUse)
	require.True(t, ok)
	require.Equal(t, "read_file", tu.Name)
	require.NotNil(t, mock.lastInput)
}

func TestSanitizeToolNameReplacesDisallowedRunes(t *testing.T) {
	require.Equal(t, "atlas_read_get_time_series", sanitizeToolName("atlas.read.get_time_series"))
}

func TestSanitizeToolNameTruncatesLongNames(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	got := sanitizeToolName(long)
	require.LessOrEqual(t, len(got), 64)
}

func TestCompleteRequiresModel(t *testing.T) {
	c, err := New(&mockRuntime{})
	require.NoError(t, err)
	req := textReq("hi")
	req.Model = ""
	_, err = c.Complete(context.Background(), req)
	require.Error(t, err)
}

func TestNewRejectsNilRuntime(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
