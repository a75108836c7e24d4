// Package muninnerr holds the error taxonomy: tool failures that never
// escape the engine, typed backend failures, and the handful of terminal
// request outcomes the proxy front-end renders.
package muninnerr

import (
	"errors"
	"fmt"
)

// ToolError is a structured tool failure. The engine never returns a
// ToolError to a caller — it converts one into a ToolResult{is_error=true}
// and continues the request; tool errors are always local.
type ToolError struct {
	Message string
	Cause   *ToolError
}

// NewToolError constructs a ToolError with the given message.
func NewToolError(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// NewToolErrorWithCause wraps an underlying error in a ToolError chain.
func NewToolErrorWithCause(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Message: message, Cause: toolErrorFromError(cause)}
}

func toolErrorFromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Message: err.Error(), Cause: toolErrorFromError(errors.Unwrap(err))}
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap supports errors.Is/As over the Cause chain.
func (e *ToolError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Recovered converts a recovered panic value into a ToolError with a
// generic message: a panic in a tool becomes an is_error=true result and
// does not abort the request.
func Recovered(r any) *ToolError {
	return NewToolError(fmt.Sprintf("tool panicked: %v", r))
}
