package agent

import "github.com/advisorlabs/clerk/internal/tools"

// EventType discriminates stream events sent to clients.
type EventType string

const (
	// EventContent carries an incremental piece of response text.
	EventContent EventType = "content"

	// EventToolUseStart announces a tool call before its input is known.
	EventToolUseStart EventType = "tool_use_start"

	// EventToolResult carries the structured outcome of one tool call.
	EventToolResult EventType = "tool_result"

	// EventDone terminates the stream with the complete response text.
	EventDone EventType = "done"

	// EventError terminates the stream after an unrecoverable failure.
	EventError EventType = "error"
)

// StreamEvent is one event on a chat stream. Every stream ends with exactly
// one done or error event.
type StreamEvent struct {
	Type     EventType     `json:"type"`
	Text     string        `json:"text,omitempty"`
	ToolID   string        `json:"tool_id,omitempty"`
	ToolName string        `json:"tool_name,omitempty"`
	Result   *tools.Result `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e *StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
