package agent

// EventType identifies a stream event.
type EventType string

const (
	// EventTextDelta carries a chunk of the final answer.
	EventTextDelta EventType = "text_delta"

	// EventToolCallStarted announces a tool call before it runs.
	EventToolCallStarted EventType = "tool_call_started"

	// EventToolCallFinished reports a tool call's outcome.
	EventToolCallFinished EventType = "tool_call_finished"

	// EventError reports a fatal failure. A done event still follows.
	EventError EventType = "error"

	// EventDone terminates the stream. Emitted exactly once per run.
	EventDone EventType = "done"
)

// StreamEvent is one item in a conversation's output stream.
type StreamEvent struct {
	Type EventType `json:"type"`

	// Text is set on text_delta events.
	Text string `json:"text,omitempty"`

	// CallID and ToolName are set on tool call events.
	CallID   string `json:"call_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`

	// Success is meaningful on tool_call_finished events.
	Success bool `json:"success,omitempty"`

	// Error is set on error events and failed tool_call_finished events.
	Error string `json:"error,omitempty"`
}
