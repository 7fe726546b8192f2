package tools

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed dispatch errors via errors.Is.
var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrToolFailed       = errors.New("tool failed")
)

// UnknownToolError is returned when the model calls a tool that was
// never declared.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// Is matches ErrUnknownTool.
func (e *UnknownToolError) Is(target error) bool { return target == ErrUnknownTool }

// InvalidArgumentsError is returned when arguments fail schema
// validation.
type InvalidArgumentsError struct {
	Tool string
	Err  error
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *InvalidArgumentsError) Unwrap() error { return e.Err }

// Is matches ErrInvalidArguments.
func (e *InvalidArgumentsError) Is(target error) bool { return target == ErrInvalidArguments }

// ToolFailedError wraps an error returned by a tool implementation.
type ToolFailedError struct {
	Tool string
	Err  error
}

func (e *ToolFailedError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolFailedError) Unwrap() error { return e.Err }

// Is matches ErrToolFailed.
func (e *ToolFailedError) Is(target error) bool { return target == ErrToolFailed }

// ErrorCode returns the short code reported to the model for a
// dispatch error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownTool):
		return "unknown_tool"
	case errors.Is(err, ErrInvalidArguments):
		return "invalid_arguments"
	default:
		return "tool_failed"
	}
}

// ErrorResult is the error-shaped tool result fed back to the model in
// place of a real result, so it can correct itself.
func ErrorResult(tool string, err error) map[string]any {
	return map[string]any{
		"tool": tool,
		"error": map[string]any{
			"code":    ErrorCode(err),
			"message": err.Error(),
		},
	}
}
