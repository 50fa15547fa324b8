package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/advisorlabs/clerk/internal/storage"
	"github.com/advisorlabs/clerk/pkg/models"
)

type createTaskTool struct {
	tasks storage.TaskStore
}

// NewCreateTaskTool exposes task creation to the model. Consent-gated.
func NewCreateTaskTool(tasks storage.TaskStore) Tool {
	return &createTaskTool{tasks: tasks}
}

func (t *createTaskTool) Name() string { return "create_task" }

func (t *createTaskTool) Description() string {
	return "Create a task for tracking multi-step operations. Use this when you need to remember something for later or wait for a response."
}

func (t *createTaskTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"description": {
				"type": "string",
				"description": "Task description"
			},
			"context": {
				"type": "object",
				"description": "Any context needed to complete the task later"
			},
			"related_email_id": {
				"type": "string",
				"description": "Optional email this task relates to"
			},
			"related_contact_id": {
				"type": "string",
				"description": "Optional CRM contact this task relates to"
			}
		},
		"required": ["description"]
	}`)
}

func (t *createTaskTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var args struct {
		Description      string         `json:"description"`
		Context          map[string]any `json:"context"`
		RelatedEmailID   string         `json:"related_email_id"`
		RelatedContactID string         `json:"related_contact_id"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	user, _ := UserFromContext(ctx)

	task := &models.Task{
		UserID:           user.ID,
		Description:      args.Description,
		Status:           models.TaskPending,
		Memory:           args.Context,
		RelatedEmailID:   args.RelatedEmailID,
		RelatedContactID: args.RelatedContactID,
	}
	if err := t.tasks.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return Ok(map[string]any{
		"message": "Task created",
		"task_id": task.ID,
	}), nil
}

type updateTaskTool struct {
	tasks storage.TaskStore
	now   func() time.Time
}

// NewUpdateTaskTool exposes task updates to the model.
func NewUpdateTaskTool(tasks storage.TaskStore) Tool {
	return &updateTaskTool{tasks: tasks, now: time.Now}
}

func (t *updateTaskTool) Name() string { return "update_task" }

func (t *updateTaskTool) Description() string {
	return "Update a task's status or memory. Use this to track progress on ongoing operations."
}

func (t *updateTaskTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task_id": {
				"type": "string",
				"description": "Task ID to update"
			},
			"status": {
				"type": "string",
				"enum": ["pending", "in_progress", "waiting", "completed", "failed"],
				"description": "New task status"
			},
			"memory": {
				"type": "object",
				"description": "Updated task memory/context"
			}
		},
		"required": ["task_id", "status"]
	}`)
}

func (t *updateTaskTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var args struct {
		TaskID string         `json:"task_id"`
		Status string         `json:"status"`
		Memory map[string]any `json:"memory"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	user, _ := UserFromContext(ctx)

	task, err := t.tasks.GetTask(ctx, user.ID, args.TaskID)
	if errors.Is(err, storage.ErrNotFound) {
		return Fail("Task not found"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}

	next := models.TaskStatus(args.Status)
	if next != task.Status {
		if !task.Status.CanTransition(next) {
			return Fail(fmt.Sprintf("task cannot move from %s to %s", task.Status, next)), nil
		}
		task.Status = next
		if next == models.TaskCompleted {
			done := t.now().UTC()
			task.CompletedAt = &done
		}
	}
	if args.Memory != nil {
		task.Memory = args.Memory
	}

	if err := t.tasks.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return Ok(map[string]any{
		"message": fmt.Sprintf("Task %s updated to %s", task.ID, task.Status),
	}), nil
}
