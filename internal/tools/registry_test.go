package tools

import (
	"context"
	"encoding/json"
	"testing"
)

type stubTool struct {
	name    string
	schema  string
	execute func(ctx context.Context, input json.RawMessage) (*Result, error)
}

func (s *stubTool) Name() string             { return s.name }
func (s *stubTool) Description() string      { return "stub" }
func (s *stubTool) Schema() json.RawMessage  { return json.RawMessage(s.schema) }
func (s *stubTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	if s.execute == nil {
		return Ok(nil), nil
	}
	return s.execute(ctx, input)
}

const echoSchema = `{
	"type": "object",
	"properties": {"text": {"type": "string"}},
	"required": ["text"]
}`

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&stubTool{name: "echo", schema: echoSchema}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, ok := r.Get("echo"); !ok {
		t.Error("registered tool should be retrievable")
	}
	if _, ok := r.Get("nope"); ok {
		t.Error("unknown name must be a lookup miss")
	}

	if err := r.Register(&stubTool{name: "echo", schema: echoSchema}); err == nil {
		t.Error("duplicate registration must fail")
	}
}

func TestRegistryRejectsBrokenSchema(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&stubTool{name: "bad", schema: `{"type": 42}`})
	if err == nil {
		t.Fatal("invalid schema must be rejected at registration")
	}
	if _, ok := r.Get("bad"); ok {
		t.Error("rejected tool must not be registered")
	}
}

func TestRegistryValidate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&stubTool{name: "echo", schema: echoSchema}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Validate("echo", json.RawMessage(`{"text": "hi"}`)); err != nil {
		t.Errorf("valid input rejected: %v", err)
	}
	if err := r.Validate("echo", json.RawMessage(`{"text": 7}`)); err == nil {
		t.Error("type mismatch must fail validation")
	}
	if err := r.Validate("echo", json.RawMessage(`{}`)); err == nil {
		t.Error("missing required field must fail validation")
	}
	if err := r.Validate("missing", json.RawMessage(`{}`)); err == nil {
		t.Error("unknown tool must fail validation")
	}
}

func TestRegistryAllSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(&stubTool{name: name, schema: `{"type": "object"}`}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	all := r.All()
	if len(all) != 3 || all[0].Name() != "alpha" || all[2].Name() != "zeta" {
		t.Errorf("All() should return tools in name order, got %v", r.Names())
	}
}
