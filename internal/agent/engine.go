package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/advisorlabs/clerk/internal/audit"
	"github.com/advisorlabs/clerk/internal/observability"
	"github.com/advisorlabs/clerk/internal/storage"
	"github.com/advisorlabs/clerk/internal/tools"
	"github.com/advisorlabs/clerk/pkg/models"
)

const (
	defaultMaxTurns     = 10
	defaultMaxTokens    = 4096
	defaultTemperature  = 0.7
	defaultHistoryLimit = 20

	// maxTurnsFallback is returned when the loop exhausts its turn budget
	// while the model is still asking for tools.
	maxTurnsFallback = "I've completed the requested actions."
)

// Config bounds the conversation loop.
type Config struct {
	Model        string
	MaxTurns     int
	MaxTokens    int
	Temperature  float64
	HistoryLimit int
}

// DefaultConfig returns the standard loop bounds.
func DefaultConfig() Config {
	return Config{
		MaxTurns:     defaultMaxTurns,
		MaxTokens:    defaultMaxTokens,
		Temperature:  defaultTemperature,
		HistoryLimit: defaultHistoryLimit,
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return cfg
}

// EngineError wraps a loop failure with the turn it occurred in.
type EngineError struct {
	Turn  int
	Cause error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("conversation turn %d: %v", e.Turn, e.Cause)
}

func (e *EngineError) Unwrap() error { return e.Cause }

// EngineDeps wires the engine's collaborators.
type EngineDeps struct {
	Provider   LLMProvider
	Registry   *tools.Registry
	Dispatcher *tools.Dispatcher
	Store      storage.Store
	Recorder   *audit.Recorder
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Config     Config
}

// Engine drives the multi-turn conversation loop. Tool calls execute
// strictly sequentially in the order the model emitted them; the loop never
// exceeds its configured turn budget.
type Engine struct {
	provider   LLMProvider
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	store      storage.Store
	recorder   *audit.Recorder
	logger     *slog.Logger
	metrics    *observability.Metrics
	cfg        Config
}

// NewEngine creates an Engine.
func NewEngine(deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider:   deps.Provider,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		store:      deps.Store,
		recorder:   deps.Recorder,
		logger:     logger.With("component", "engine"),
		metrics:    deps.Metrics,
		cfg:        sanitizeConfig(deps.Config),
	}
}

// ChatStream handles one user message. The user message is persisted before
// any model work so a crash never loses input; the returned channel carries
// the streamed response and is closed after exactly one terminal event.
func (e *Engine) ChatStream(ctx context.Context, user models.UserRef, message string) (<-chan *StreamEvent, error) {
	userMsg := &models.ChatMessage{
		UserID:  user.ID,
		Role:    models.RoleUser,
		Content: message,
	}
	if err := e.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	events := make(chan *StreamEvent, 16)
	go func() {
		defer close(events)
		emit := func(ev *StreamEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		history, err := e.conversationHistory(ctx, user.ID)
		if err != nil {
			e.logger.Error("history load failed", "user_id", user.ID, "error", err)
			emit(&StreamEvent{Type: EventError, Error: "conversation history unavailable"})
			return
		}

		finalText, records, err := e.runLoop(ctx, user, e.systemPrompt(ctx, user), history, emit)
		if err != nil {
			e.logger.Error("conversation loop failed", "user_id", user.ID, "error", err)
			emit(&StreamEvent{Type: EventError, Error: err.Error()})
			return
		}

		assistantMsg := &models.ChatMessage{
			UserID:    user.ID,
			Role:      models.RoleAssistant,
			Content:   finalText,
			ToolCalls: records,
		}
		if err := e.store.AppendMessage(ctx, assistantMsg); err != nil {
			e.logger.Error("persist assistant message failed", "user_id", user.ID, "error", err)
		}

		emit(&StreamEvent{Type: EventDone, Text: finalText})
	}()
	return events, nil
}

// Chat runs the identical loop synchronously and returns only the final
// text. Nothing is persisted; it serves one-shot evaluations.
func (e *Engine) Chat(ctx context.Context, user models.UserRef, message string) (string, error) {
	msgs := []CompletionMessage{{Role: "user", Content: message}}
	finalText, _, err := e.runLoop(ctx, user, e.systemPrompt(ctx, user), msgs, nil)
	if err != nil {
		return "", err
	}
	if finalText == "" {
		finalText = "Task completed."
	}
	return finalText, nil
}

// runLoop is the shared turn loop. emit may be nil for non-streaming
// callers. It returns the final response text and the resolved tool calls
// made across all turns.
func (e *Engine) runLoop(ctx context.Context, user models.UserRef, system string, msgs []CompletionMessage, emit func(*StreamEvent)) (string, []models.ToolCallRecord, error) {
	if emit == nil {
		emit = func(*StreamEvent) {}
	}

	var records []models.ToolCallRecord
	var finalText string

	for turn := 1; turn <= e.cfg.MaxTurns; turn++ {
		text, toolUses, err := e.completeTurn(ctx, system, msgs, emit)
		if err != nil {
			return "", nil, &EngineError{Turn: turn, Cause: err}
		}
		finalText = text

		if len(toolUses) == 0 {
			return finalText, records, nil
		}

		msgs = append(msgs, CompletionMessage{
			Role:      "assistant",
			Content:   text,
			ToolCalls: toolUses,
		})

		results := make([]ToolResultPayload, 0, len(toolUses))
		for _, tu := range toolUses {
			res := e.dispatcher.Execute(ctx, user, tu.Name, tu.Input, nil)
			records = append(records, models.ToolCallRecord{
				Tool:   tu.Name,
				Input:  tu.Input,
				Result: res.JSON(),
			})
			emit(&StreamEvent{Type: EventToolResult, ToolID: tu.ID, ToolName: tu.Name, Result: res})
			results = append(results, ToolResultPayload{
				ToolCallID: tu.ID,
				Content:    string(res.JSON()),
				IsError:    !res.Success,
			})
		}
		msgs = append(msgs, CompletionMessage{Role: "user", ToolResults: results})
	}

	// Turn budget exhausted while the model still wanted tools.
	if finalText == "" {
		finalText = maxTurnsFallback
	}
	return finalText, records, nil
}

// completeTurn runs one model call, streaming text out and accumulating
// tool calls in emission order.
func (e *Engine) completeTurn(ctx context.Context, system string, msgs []CompletionMessage, emit func(*StreamEvent)) (string, []models.ToolCall, error) {
	if emit == nil {
		emit = func(*StreamEvent) {}
	}
	req := &CompletionRequest{
		Model:       e.cfg.Model,
		System:      system,
		Messages:    msgs,
		Tools:       e.registry.All(),
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	}

	start := time.Now()
	chunks, err := e.provider.Complete(ctx, req)
	if err != nil {
		e.metrics.RecordLLMRequest(e.provider.Name(), e.cfg.Model, "error", time.Since(start).Seconds())
		return "", nil, fmt.Errorf("model request: %w", err)
	}

	var text string
	var toolUses []models.ToolCall
	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			e.metrics.RecordLLMRequest(e.provider.Name(), e.cfg.Model, "error", time.Since(start).Seconds())
			return "", nil, fmt.Errorf("model stream: %w", chunk.Error)
		case chunk.Text != "":
			text += chunk.Text
			emit(&StreamEvent{Type: EventContent, Text: chunk.Text})
		case chunk.ToolUseStart != nil:
			emit(&StreamEvent{Type: EventToolUseStart, ToolID: chunk.ToolUseStart.ID, ToolName: chunk.ToolUseStart.Name})
		case chunk.ToolCall != nil:
			toolUses = append(toolUses, *chunk.ToolCall)
		}
	}
	e.metrics.RecordLLMRequest(e.provider.Name(), e.cfg.Model, "success", time.Since(start).Seconds())
	return text, toolUses, nil
}

// systemPrompt builds the chat system prompt from the user's standing
// instructions and open tasks. Context loading is best-effort: a storage
// hiccup degrades to the base prompt rather than failing the chat.
func (e *Engine) systemPrompt(ctx context.Context, user models.UserRef) string {
	instructions, err := e.store.ListActiveInstructions(ctx, user.ID)
	if err != nil {
		e.logger.Warn("instruction load failed", "user_id", user.ID, "error", err)
	}
	tasks, err := e.store.ListActiveTasks(ctx, user.ID)
	if err != nil {
		e.logger.Warn("task load failed", "user_id", user.ID, "error", err)
	}
	return buildSystemPrompt(user.Name, instructions, tasks)
}

// conversationHistory converts recent persisted messages into the model
// transcript. System-role messages (proactive summaries) are excluded.
func (e *Engine) conversationHistory(ctx context.Context, userID string) ([]CompletionMessage, error) {
	msgs, err := e.store.RecentMessages(ctx, userID, e.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	out := make([]CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			continue
		}
		out = append(out, CompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out, nil
}
