package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/advisorlabs/clerk/pkg/models"
)

// ProactiveCheck evaluates an external event against the user's standing
// instructions. It returns true only when the model decided to act; with no
// matching active instructions the model is never called. Any tool calls
// the model emits run through the dispatcher, so consent is enforced
// exactly as in a normal conversation.
func (e *Engine) ProactiveCheck(ctx context.Context, user models.UserRef, eventType string, eventData map[string]any) (bool, error) {
	instructions, err := e.store.MatchingInstructions(ctx, user.ID, eventType)
	if err != nil {
		return false, fmt.Errorf("load instructions: %w", err)
	}
	if len(instructions) == 0 {
		e.metrics.RecordProactive(eventType, "skipped")
		return false, nil
	}

	system := buildProactivePrompt(instructions)
	msgs := []CompletionMessage{{Role: "user", Content: buildEventMessage(eventType, eventData)}}

	// The first completion carries the decision. Tool calls emitted with a
	// no_action decision are discarded unexecuted.
	text, toolUses, err := e.completeTurn(ctx, system, msgs, nil)
	if err != nil {
		return false, &EngineError{Turn: 1, Cause: err}
	}
	if !parseDecision(text) {
		e.metrics.RecordProactive(eventType, "no_action")
		return false, nil
	}

	finalText := text
	if len(toolUses) > 0 {
		msgs = append(msgs, CompletionMessage{Role: "assistant", Content: text, ToolCalls: toolUses})
		remaining, err := e.resumeLoop(ctx, user, system, msgs, toolUses)
		if err != nil {
			return false, err
		}
		if remaining != "" {
			finalText = remaining
		}
	}

	summary := "[Proactive] " + finalText
	if err := e.store.AppendMessage(ctx, &models.ChatMessage{
		UserID:  user.ID,
		Role:    models.RoleSystem,
		Content: summary,
	}); err != nil {
		e.logger.Error("persist proactive message failed", "user_id", user.ID, "error", err)
	}

	e.recorder.LogProactiveAction(ctx, user, eventType, finalText, map[string]any{
		"event_data":   eventData,
		"instructions": len(instructions),
	})

	now := time.Now().UTC()
	for _, inst := range instructions {
		if err := e.store.TouchInstruction(ctx, inst.ID, now); err != nil {
			e.logger.Warn("instruction touch failed", "instruction_id", inst.ID, "error", err)
		}
	}

	e.metrics.RecordProactive(eventType, "action")
	return true, nil
}

// resumeLoop executes the pending tool calls from the decision turn and
// continues the standard loop until the model stops asking for tools.
func (e *Engine) resumeLoop(ctx context.Context, user models.UserRef, system string, msgs []CompletionMessage, pending []models.ToolCall) (string, error) {
	var finalText string

	for turn := 2; turn <= e.cfg.MaxTurns; turn++ {
		results := make([]ToolResultPayload, 0, len(pending))
		for _, tu := range pending {
			res := e.dispatcher.Execute(ctx, user, tu.Name, tu.Input, nil)
			results = append(results, ToolResultPayload{
				ToolCallID: tu.ID,
				Content:    string(res.JSON()),
				IsError:    !res.Success,
			})
		}
		msgs = append(msgs, CompletionMessage{Role: "user", ToolResults: results})

		text, toolUses, err := e.completeTurn(ctx, system, msgs, nil)
		if err != nil {
			return "", &EngineError{Turn: turn, Cause: err}
		}
		finalText = text
		if len(toolUses) == 0 {
			return finalText, nil
		}
		msgs = append(msgs, CompletionMessage{Role: "assistant", Content: text, ToolCalls: toolUses})
		pending = toolUses
	}

	if finalText == "" {
		finalText = maxTurnsFallback
	}
	return finalText, nil
}
