// Package tools provides the tool registry and the executor that runs
// model-issued tool calls.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/metricsmith/sage/pkg/model"
)

// ErrToolNotFound is returned when a call names a tool that was never
// registered. The executor converts it into a failed result rather than
// surfacing it to the model loop.
var ErrToolNotFound = errors.New("tool not found")

// FailureKind classifies a tool failure for retry decisions and for the
// payload sent back to the model.
type FailureKind string

const (
	// FailureNone means the call succeeded.
	FailureNone FailureKind = ""

	// FailureTransient covers timeouts, rate limits, and flaky upstreams.
	// Transient failures are retried.
	FailureTransient FailureKind = "transient"

	// FailurePermanent covers bad arguments, missing resources, and auth
	// problems. Retrying would not help.
	FailurePermanent FailureKind = "permanent"

	// FailureNotFound means the named tool does not exist.
	FailureNotFound FailureKind = "not_found"
)

// Tool is a capability the model can invoke.
type Tool interface {
	// Definition advertises the tool to the model, including a JSON
	// Schema for its arguments.
	Definition() model.ToolDefinition

	// Execute runs the tool. The returned string is the raw payload;
	// the executor normalizes it to JSON. Errors should be wrapped in
	// *ToolError when the tool knows its own failure class.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Result is the outcome of one tool call, always produced, never thrown.
type Result struct {
	CallID   string        `json:"call_id"`
	ToolName string        `json:"tool_name"`
	Success  bool          `json:"success"`
	Content  string        `json:"content"`
	Error    string        `json:"error,omitempty"`
	Kind     FailureKind   `json:"kind,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ToolError carries a failure class alongside the underlying error.
type ToolError struct {
	Tool    string
	Kind    FailureKind
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool %s: %s: %v", e.Tool, e.Message, e.Err)
	}
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// NewTransientError marks a failure as retryable.
func NewTransientError(tool, message string, err error) *ToolError {
	return &ToolError{Tool: tool, Kind: FailureTransient, Message: message, Err: err}
}

// NewPermanentError marks a failure as not worth retrying.
func NewPermanentError(tool, message string, err error) *ToolError {
	return &ToolError{Tool: tool, Kind: FailurePermanent, Message: message, Err: err}
}
