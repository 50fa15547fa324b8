package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/advisorlabs/clerk/internal/storage"
	"github.com/advisorlabs/clerk/pkg/models"
)

type saveInstructionTool struct {
	instructions storage.InstructionStore
}

// NewSaveInstructionTool exposes standing-instruction capture to the model.
func NewSaveInstructionTool(instructions storage.InstructionStore) Tool {
	return &saveInstructionTool{instructions: instructions}
}

func (t *saveInstructionTool) Name() string { return "save_instruction" }

func (t *saveInstructionTool) Description() string {
	return "Save an ongoing instruction or rule. Use this when the user gives you standing instructions like 'always do X when Y happens'."
}

func (t *saveInstructionTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"instruction": {
				"type": "string",
				"description": "The instruction to remember"
			},
			"trigger_type": {
				"type": "string",
				"enum": ["email", "calendar", "contact", "note", "task_followup", "always"],
				"description": "What should trigger this instruction"
			}
		},
		"required": ["instruction", "trigger_type"]
	}`)
}

func (t *saveInstructionTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var args struct {
		Instruction string `json:"instruction"`
		TriggerType string `json:"trigger_type"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	user, _ := UserFromContext(ctx)

	inst := &models.Instruction{
		UserID:      user.ID,
		Instruction: args.Instruction,
		TriggerType: models.TriggerType(args.TriggerType),
		IsActive:    true,
	}
	if err := t.instructions.SaveInstruction(ctx, inst); err != nil {
		return nil, fmt.Errorf("save instruction: %w", err)
	}
	return Ok(map[string]any{
		"message":        "Instruction saved",
		"instruction_id": inst.ID,
	}), nil
}
