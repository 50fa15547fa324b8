// Package tools defines the tool surface the model can call and the
// dispatcher that gates, executes and audits every invocation.
package tools

import (
	"context"
	"encoding/json"
)

// Tool is a capability exposed to the model.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Description explains to the model what the tool does.
	Description() string

	// Schema returns the JSON Schema for the tool's input.
	Schema() json.RawMessage

	// Execute runs the tool. Domain failures are reported through the
	// result; a returned error means the tool itself broke.
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Result is the structured outcome of one tool invocation. It is what the
// model sees as the tool's output.
type Result struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`

	// RequiresConsent marks a denial that the user can lift by granting
	// consent for ActionType.
	RequiresConsent bool   `json:"requires_consent,omitempty"`
	ActionType      string `json:"action_type,omitempty"`
}

// Ok builds a successful result.
func Ok(payload map[string]any) *Result {
	return &Result{Success: true, Result: payload}
}

// Fail builds a failed result with a user-presentable error.
func Fail(msg string) *Result {
	return &Result{Success: false, Error: msg}
}

// JSON renders the result for inclusion in a model message.
func (r *Result) JSON() json.RawMessage {
	raw, err := json.Marshal(r)
	if err != nil {
		return json.RawMessage(`{"success":false,"error":"unencodable tool result"}`)
	}
	return raw
}

// ResultMap flattens the result into the map shape audit surfaces record.
func (r *Result) ResultMap() map[string]any {
	out := map[string]any{"success": r.Success}
	if r.Error != "" {
		out["error"] = r.Error
	}
	for k, v := range r.Result {
		out[k] = v
	}
	return out
}
