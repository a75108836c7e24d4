// Package tools defines the uniform tool contract the RLM engine dispatches
// through and the process-local registry that holds them.
package tools

import (
	"context"

	"github.com/colliery-io/muninn/internal/types"
)

// ResultKind discriminates the Content variants a tool's ResultContent may
// carry.
type ResultKind string

const (
	ResultText  ResultKind = "text"
	ResultJSON  ResultKind = "json"
	ResultFile  ResultKind = "file"
	ResultError ResultKind = "error"
)

// ResultContent is the `{ content: Text | Json | FileContent | Error, metadata? }`
// shape a Tool's Execute returns. Exactly one of the Text/JSON/File/Err
// fields is meaningful, selected by Kind.
type ResultContent struct {
	Kind ResultKind

	Text string
	JSON any

	FilePath     string
	FileContent  string
	FileLanguage string

	ErrMessage     string
	ErrRecoverable bool

	Metadata *ResultMetadata
}

// ResultMetadata carries the optional relevance/source hints a tool
// result may attach.
type ResultMetadata struct {
	Relevance float32
	Source    string
}

// TextResult builds a plain-text ResultContent.
func TextResult(text string) ResultContent { return ResultContent{Kind: ResultText, Text: text} }

// JSONResult builds a structured-value ResultContent.
func JSONResult(v any) ResultContent { return ResultContent{Kind: ResultJSON, JSON: v} }

// FileResult builds a file-contents ResultContent.
func FileResult(path, content, language string) ResultContent {
	return ResultContent{Kind: ResultFile, FilePath: path, FileContent: content, FileLanguage: language}
}

// ErrorResult builds an error ResultContent; recoverable indicates whether
// the model should be encouraged to try something else rather than give up.
func ErrorResult(message string, recoverable bool) ResultContent {
	return ResultContent{Kind: ResultError, ErrMessage: message, ErrRecoverable: recoverable}
}

// ToText projects a ResultContent down to the string the engine wraps into
// a types.ToolResult's Content when the caller doesn't need the structured
// shape (the engine uses it for text and error results). A JSON result
// projects to the empty string.
func (r ResultContent) ToText() string {
	switch r.Kind {
	case ResultText:
		return r.Text
	case ResultFile:
		return r.FileContent
	case ResultError:
		return r.ErrMessage
	default:
		return ""
	}
}

// Tool is a named capability the RLM engine may invoke via a ToolUse block.
// Implementations must be safe to invoke concurrently: the engine calls
// Execute sequentially within one request, but the registry holding the
// tool is shared across concurrent requests.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, input any) (ResultContent, error)
}

// Definition projects a Tool down to the wire-format ToolDefinition exposed
// to the model as part of CompletionRequest.Tools.
func Definition(t Tool) types.ToolDefinition {
	return types.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.InputSchema(),
	}
}
