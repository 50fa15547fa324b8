package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/advisorlabs/clerk/internal/agent"
	"github.com/advisorlabs/clerk/pkg/models"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailoverReason
	}{
		{"timeout", errors.New("context deadline exceeded"), FailoverTimeout},
		{"rate limit", errors.New("429 too many requests"), FailoverRateLimit},
		{"auth", errors.New("invalid api key provided"), FailoverAuth},
		{"billing", errors.New("insufficient quota for request"), FailoverBilling},
		{"server", errors.New("502 bad gateway"), FailoverServerError},
		{"unknown", errors.New("something odd"), FailoverUnknown},
		{"nil", nil, FailoverUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFailoverReasonIsRetryable(t *testing.T) {
	retryable := []FailoverReason{FailoverRateLimit, FailoverTimeout, FailoverServerError}
	for _, r := range retryable {
		if !r.IsRetryable() {
			t.Errorf("%v should be retryable", r)
		}
	}
	permanent := []FailoverReason{FailoverAuth, FailoverBilling, FailoverInvalidRequest, FailoverContentFilter, FailoverUnknown}
	for _, r := range permanent {
		if r.IsRetryable() {
			t.Errorf("%v should not be retryable", r)
		}
	}
}

func TestIsRetryableUnwrapsProviderError(t *testing.T) {
	inner := &ProviderError{Reason: FailoverRateLimit, Provider: "anthropic"}
	wrapped := fmt.Errorf("request failed: %w", inner)

	if !IsRetryable(wrapped) {
		t.Error("wrapped rate limit error should be retryable")
	}

	got, ok := GetProviderError(wrapped)
	if !ok || got.Reason != FailoverRateLimit {
		t.Errorf("GetProviderError() = %v, %v", got, ok)
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := NewProviderError("openai", "gpt-4o", errors.New("too many requests")).
		WithStatus(429).
		WithCode("rate_limit_exceeded")

	msg := err.Error()
	for _, want := range []string{"[rate_limit]", "openai", "model=gpt-4o", "status=429"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if err.Reason != FailoverRateLimit {
		t.Errorf("Reason = %v, want rate_limit", err.Reason)
	}
}

func TestWithStatusReclassifies(t *testing.T) {
	tests := []struct {
		status int
		want   FailoverReason
	}{
		{401, FailoverAuth},
		{402, FailoverBilling},
		{400, FailoverInvalidRequest},
		{404, FailoverModelUnavailable},
		{503, FailoverServerError},
	}
	for _, tt := range tests {
		err := (&ProviderError{Reason: FailoverUnknown}).WithStatus(tt.status)
		if err.Reason != tt.want {
			t.Errorf("status %d: Reason = %v, want %v", tt.status, err.Reason, tt.want)
		}
	}
}

func TestOpenAIConvertMessages(t *testing.T) {
	p := NewOpenAIProvider("test-key")

	msgs := []agent.CompletionMessage{
		{Role: "user", Content: "book a meeting"},
		{Role: "assistant", Content: "checking", ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "check_availability", Input: json.RawMessage(`{"days_ahead":7}`)},
		}},
		{Role: "user", ToolResults: []agent.ToolResultPayload{
			{ToolCallID: "call_1", Content: `{"success":true}`},
		}},
	}

	out, err := p.convertMessages(msgs, "you are an assistant")
	if err != nil {
		t.Fatalf("convertMessages() error = %v", err)
	}

	if len(out) != 4 {
		t.Fatalf("got %d messages, want 4", len(out))
	}
	if out[0].Role != "system" || out[0].Content != "you are an assistant" {
		t.Errorf("first message = %+v, want system prompt", out[0])
	}
	if len(out[2].ToolCalls) != 1 || out[2].ToolCalls[0].Function.Name != "check_availability" {
		t.Errorf("assistant tool calls = %+v", out[2].ToolCalls)
	}
	if out[3].Role != "tool" || out[3].ToolCallID != "call_1" {
		t.Errorf("tool result message = %+v", out[3])
	}
}

func TestOpenAICompleteWithoutKey(t *testing.T) {
	p := NewOpenAIProvider("")
	_, err := p.Complete(t.Context(), &agent.CompletionRequest{Model: "gpt-4o"})
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Errorf("Complete() error = %v, want missing key error", err)
	}
}

func TestAnthropicRequiresAPIKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Error("expected error for empty API key")
	}

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}
	if p.Name() != "anthropic" || !p.SupportsTools() {
		t.Errorf("unexpected provider identity: %s tools=%v", p.Name(), p.SupportsTools())
	}
	if p.getModel("") != defaultAnthropicModel {
		t.Errorf("getModel fallback = %q", p.getModel(""))
	}
	if p.getMaxTokens(0) != 4096 {
		t.Errorf("getMaxTokens fallback = %d", p.getMaxTokens(0))
	}
}
