package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/advisorlabs/clerk/internal/audit"
	"github.com/advisorlabs/clerk/internal/consent"
	"github.com/advisorlabs/clerk/internal/storage"
	"github.com/advisorlabs/clerk/internal/tools"
	"github.com/advisorlabs/clerk/pkg/models"
)

var testUser = models.UserRef{ID: "user-1", Email: "advisor@example.com", Name: "Dana"}

// scriptedProvider replays a fixed sequence of model turns. Each Complete
// call consumes the next turn; calls past the script return a plain text
// reply so loops always terminate.
type scriptedProvider struct {
	mu    sync.Mutex
	turns [][]*CompletionChunk
	calls int
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.mu.Unlock()

	var turn []*CompletionChunk
	if idx < len(p.turns) {
		turn = p.turns[idx]
	} else {
		turn = []*CompletionChunk{{Text: "done"}}
	}

	ch := make(chan *CompletionChunk, len(turn))
	for _, c := range turn {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) SupportsTools() bool { return true }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type failingProvider struct{}

func (failingProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	ch := make(chan *CompletionChunk, 1)
	ch <- &CompletionChunk{Error: context.DeadlineExceeded}
	close(ch)
	return ch, nil
}

func (failingProvider) Name() string        { return "failing" }
func (failingProvider) SupportsTools() bool { return true }

type recordingTool struct {
	name  string
	mu    sync.Mutex
	calls []json.RawMessage
	run   func(ctx context.Context, input json.RawMessage) (*tools.Result, error)
}

func (t *recordingTool) Name() string            { return t.name }
func (t *recordingTool) Description() string     { return "test tool" }
func (t *recordingTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (t *recordingTool) Execute(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
	t.mu.Lock()
	t.calls = append(t.calls, input)
	t.mu.Unlock()
	if t.run != nil {
		return t.run(ctx, input)
	}
	return tools.Ok(map[string]any{"echo": string(input)}), nil
}

func (t *recordingTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

type engineFixture struct {
	store    *storage.MemoryStore
	registry *tools.Registry
	gate     *consent.Gate
	engine   *Engine
}

func newEngineFixture(t *testing.T, provider LLMProvider, cfg Config, toolset ...tools.Tool) *engineFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	registry := tools.NewRegistry()
	for _, tool := range toolset {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name(), err)
		}
	}
	gate := consent.NewGate(store, logger)
	recorder := audit.NewRecorder(store, logger)
	dispatcher := tools.NewDispatcher(tools.DispatcherConfig{
		Registry: registry,
		Gate:     gate,
		Recorder: recorder,
		Logger:   logger,
	})

	return &engineFixture{
		store:    store,
		registry: registry,
		gate:     gate,
		engine: NewEngine(EngineDeps{
			Provider:   provider,
			Registry:   registry,
			Dispatcher: dispatcher,
			Store:      store,
			Recorder:   recorder,
			Logger:     logger,
			Config:     cfg,
		}),
	}
}

func collectEvents(t *testing.T, events <-chan *StreamEvent) []*StreamEvent {
	t.Helper()
	var out []*StreamEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out draining event stream")
		}
	}
}

func toolCallChunk(id, name, input string) *CompletionChunk {
	return &CompletionChunk{ToolCall: &models.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}}
}

func TestChatStreamTextOnly(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{Text: "Hello "}, {Text: "there."}, {Done: true}},
	}}
	f := newEngineFixture(t, provider, Config{})

	events, err := f.engine.ChatStream(t.Context(), testUser, "hi")
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	got := collectEvents(t, events)

	if len(got) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(got), got)
	}
	if got[0].Type != EventContent || got[0].Text != "Hello " {
		t.Errorf("event 0 = %+v", got[0])
	}
	if got[2].Type != EventDone || got[2].Text != "Hello there." {
		t.Errorf("terminal event = %+v", got[2])
	}

	msgs, err := f.store.RecentMessages(t.Context(), testUser.ID, 10)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d persisted messages, want user+assistant", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "hi" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || msgs[1].Content != "Hello there." {
		t.Errorf("assistant message = %+v", msgs[1])
	}
}

func TestChatStreamToolLoop(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{
			{Text: "Let me check."},
			{ToolUseStart: &ToolUseStart{ID: "tc1", Name: "lookup"}},
			toolCallChunk("tc1", "lookup", `{"q":"acme"}`),
			{Done: true},
		},
		{{Text: "Found it."}, {Done: true}},
	}}
	tool := &recordingTool{name: "lookup"}
	f := newEngineFixture(t, provider, Config{}, tool)

	events, err := f.engine.ChatStream(t.Context(), testUser, "find acme")
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	got := collectEvents(t, events)

	var types []EventType
	for _, ev := range got {
		types = append(types, ev.Type)
	}
	want := []EventType{EventContent, EventToolUseStart, EventToolResult, EventContent, EventDone}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}

	if tool.callCount() != 1 {
		t.Errorf("tool called %d times, want 1", tool.callCount())
	}
	if provider.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", provider.callCount())
	}

	var resultEv *StreamEvent
	for _, ev := range got {
		if ev.Type == EventToolResult {
			resultEv = ev
		}
	}
	if resultEv.ToolName != "lookup" || resultEv.ToolID != "tc1" || !resultEv.Result.Success {
		t.Errorf("tool result event = %+v", resultEv)
	}

	msgs, _ := f.store.RecentMessages(t.Context(), testUser.ID, 10)
	if len(msgs) != 2 {
		t.Fatalf("got %d persisted messages, want 2", len(msgs))
	}
	assistant := msgs[1]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Tool != "lookup" {
		t.Errorf("assistant tool call records = %+v", assistant.ToolCalls)
	}
}

func TestChatStreamSequentialToolOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	mark := func(name string) func(context.Context, json.RawMessage) (*tools.Result, error) {
		return func(context.Context, json.RawMessage) (*tools.Result, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return tools.Ok(nil), nil
		}
	}
	first := &recordingTool{name: "first", run: mark("first")}
	second := &recordingTool{name: "second", run: mark("second")}

	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{
			toolCallChunk("a", "first", `{}`),
			toolCallChunk("b", "second", `{}`),
			{Done: true},
		},
		{{Text: "ok"}, {Done: true}},
	}}
	f := newEngineFixture(t, provider, Config{}, first, second)

	events, err := f.engine.ChatStream(t.Context(), testUser, "go")
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	collectEvents(t, events)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("execution order = %v, want [first second]", order)
	}
}

func TestChatStreamMaxTurns(t *testing.T) {
	tool := &recordingTool{name: "loop"}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{toolCallChunk("1", "loop", `{}`), {Done: true}},
		{toolCallChunk("2", "loop", `{}`), {Done: true}},
		{toolCallChunk("3", "loop", `{}`), {Done: true}},
		{toolCallChunk("4", "loop", `{}`), {Done: true}},
		{toolCallChunk("5", "loop", `{}`), {Done: true}},
	}}
	f := newEngineFixture(t, provider, Config{MaxTurns: 3}, tool)

	events, err := f.engine.ChatStream(t.Context(), testUser, "loop forever")
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	got := collectEvents(t, events)

	if provider.callCount() != 3 {
		t.Errorf("provider called %d times, want 3", provider.callCount())
	}

	terminals := 0
	var last *StreamEvent
	for _, ev := range got {
		if ev.Terminal() {
			terminals++
			last = ev
		}
	}
	if terminals != 1 {
		t.Fatalf("got %d terminal events, want exactly 1", terminals)
	}
	if last.Type != EventDone || last.Text != maxTurnsFallback {
		t.Errorf("terminal = %+v, want done with fallback text", last)
	}
}

func TestChatStreamProviderError(t *testing.T) {
	f := newEngineFixture(t, failingProvider{}, Config{})

	events, err := f.engine.ChatStream(t.Context(), testUser, "hi")
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	got := collectEvents(t, events)

	terminals := 0
	for _, ev := range got {
		if ev.Terminal() {
			terminals++
			if ev.Type != EventError || ev.Error == "" {
				t.Errorf("terminal = %+v, want error event", ev)
			}
		}
	}
	if terminals != 1 {
		t.Fatalf("got %d terminal events, want exactly 1", terminals)
	}

	// The user message survives even though the turn failed.
	msgs, _ := f.store.RecentMessages(t.Context(), testUser.ID, 10)
	if len(msgs) != 1 || msgs[0].Role != models.RoleUser {
		t.Errorf("persisted messages = %+v, want only the user message", msgs)
	}
}

func TestChatStreamConsentDenied(t *testing.T) {
	mailer := &recordingTool{name: "send_email"}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{toolCallChunk("tc1", "send_email", `{"to":["a@b.c"]}`), {Done: true}},
		{{Text: "I need your approval first."}, {Done: true}},
	}}
	f := newEngineFixture(t, provider, Config{}, mailer)

	events, err := f.engine.ChatStream(t.Context(), testUser, "email the client")
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	got := collectEvents(t, events)

	if mailer.callCount() != 0 {
		t.Errorf("handler ran %d times despite missing consent", mailer.callCount())
	}

	var resultEv *StreamEvent
	for _, ev := range got {
		if ev.Type == EventToolResult {
			resultEv = ev
		}
	}
	if resultEv == nil {
		t.Fatal("no tool_result event emitted")
	}
	res := resultEv.Result
	if res.Success || !res.RequiresConsent || res.ActionType != "send_email" {
		t.Errorf("denial result = %+v", res)
	}
	if want := "Consent required:"; len(res.Error) < len(want) || res.Error[:len(want)] != want {
		t.Errorf("denial error = %q, want %q prefix", res.Error, want)
	}
}

func TestChatStreamConsentGranted(t *testing.T) {
	mailer := &recordingTool{name: "send_email"}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{toolCallChunk("tc1", "send_email", `{"to":["a@b.c"]}`), {Done: true}},
		{{Text: "Sent."}, {Done: true}},
	}}
	f := newEngineFixture(t, provider, Config{}, mailer)

	if err := f.gate.Grant(t.Context(), testUser.ID, "send_email", "", nil, nil); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}

	events, err := f.engine.ChatStream(t.Context(), testUser, "email the client")
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	collectEvents(t, events)

	if mailer.callCount() != 1 {
		t.Errorf("handler ran %d times, want 1", mailer.callCount())
	}
}

func TestChatSynchronous(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{Text: "All set."}, {Done: true}},
	}}
	f := newEngineFixture(t, provider, Config{})

	text, err := f.engine.Chat(t.Context(), testUser, "do the thing")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if text != "All set." {
		t.Errorf("Chat() = %q", text)
	}

	// One-shot evaluation persists nothing.
	msgs, _ := f.store.RecentMessages(t.Context(), testUser.ID, 10)
	if len(msgs) != 0 {
		t.Errorf("persisted %d messages, want 0", len(msgs))
	}
}

func TestChatEmptyResponseFallback(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{Done: true}},
	}}
	f := newEngineFixture(t, provider, Config{})

	text, err := f.engine.Chat(t.Context(), testUser, "quiet")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if text != "Task completed." {
		t.Errorf("Chat() = %q, want fallback", text)
	}
}

func TestChatStreamHistoryExcludesSystemMessages(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{Text: "hello"}, {Done: true}},
	}}
	f := newEngineFixture(t, provider, Config{})

	seed := []*models.ChatMessage{
		{UserID: testUser.ID, Role: models.RoleUser, Content: "earlier question"},
		{UserID: testUser.ID, Role: models.RoleAssistant, Content: "earlier answer"},
		{UserID: testUser.ID, Role: models.RoleSystem, Content: "[Proactive] background note"},
	}
	for _, m := range seed {
		if err := f.store.AppendMessage(t.Context(), m); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	events, err := f.engine.ChatStream(t.Context(), testUser, "new question")
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	collectEvents(t, events)

	history, err := f.engine.conversationHistory(t.Context(), testUser.ID)
	if err != nil {
		t.Fatalf("conversationHistory() error = %v", err)
	}
	for _, m := range history {
		if m.Role == "system" {
			t.Errorf("system message leaked into history: %+v", m)
		}
	}
}
