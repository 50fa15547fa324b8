// Package agent implements the conversation engine: the bounded turn loop
// that drives a model through reasoning, tool execution and response
// synthesis, plus the proactive evaluator for external events.
package agent

import (
	"context"

	"github.com/advisorlabs/clerk/internal/tools"
	"github.com/advisorlabs/clerk/pkg/models"
)

// LLMProvider abstracts a streaming language-model API.
type LLMProvider interface {
	// Complete sends a request and returns a channel of response chunks.
	// The channel is closed when the response is finished. Errors after
	// the stream starts arrive as chunks.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider identifier used in logs and metrics.
	Name() string

	// SupportsTools reports whether the provider can execute tool calls.
	SupportsTools() bool
}

// CompletionRequest is a provider-agnostic model request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []CompletionMessage
	Tools       []tools.Tool
	MaxTokens   int
	Temperature float64
}

// CompletionMessage is one message in the request transcript.
type CompletionMessage struct {
	Role        string
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []ToolResultPayload
}

// ToolResultPayload carries a tool outcome back to the model.
type ToolResultPayload struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// ToolUseStart announces that the model has begun emitting a tool call,
// before its input is complete.
type ToolUseStart struct {
	ID   string
	Name string
}

// CompletionChunk is one streamed piece of a model response.
type CompletionChunk struct {
	// Text is an incremental piece of the response text.
	Text string

	// ToolUseStart is set when the model begins a tool call.
	ToolUseStart *ToolUseStart

	// ToolCall is set when a tool call's input has fully accumulated.
	ToolCall *models.ToolCall

	// Done marks the final chunk; StopReason is set alongside it.
	Done       bool
	StopReason string

	// Error is a mid-stream failure. The stream ends after it.
	Error error
}
