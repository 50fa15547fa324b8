package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/advisorlabs/clerk/internal/storage"
	"github.com/advisorlabs/clerk/pkg/models"
)

func taskToolCtx(userID string) context.Context {
	return WithUser(context.Background(), models.UserRef{ID: userID})
}

func TestCreateTaskTool(t *testing.T) {
	store := storage.NewMemoryStore()
	tool := NewCreateTaskTool(store)

	res, err := tool.Execute(taskToolCtx("u1"), json.RawMessage(`{"description": "chase signature", "context": {"client": "Sara Smith"}}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	taskID := res.Result["task_id"].(string)
	task, err := store.GetTask(context.Background(), "u1", taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != models.TaskPending {
		t.Errorf("new task status = %s, want pending", task.Status)
	}
	if task.CompletedAt != nil {
		t.Error("new task must not have completed_at")
	}
	if task.Memory["client"] != "Sara Smith" {
		t.Error("context should be stored as task memory")
	}
}

func TestUpdateTaskToolLifecycle(t *testing.T) {
	ctx := taskToolCtx("u1")
	store := storage.NewMemoryStore()
	create := NewCreateTaskTool(store)
	update := NewUpdateTaskTool(store)

	res, err := create.Execute(ctx, json.RawMessage(`{"description": "schedule review"}`))
	if err != nil || !res.Success {
		t.Fatalf("create: %v %+v", err, res)
	}
	taskID := res.Result["task_id"].(string)

	step := func(status string) *Result {
		t.Helper()
		input := json.RawMessage(fmt.Sprintf(`{"task_id": %q, "status": %q}`, taskID, status))
		r, err := update.Execute(ctx, input)
		if err != nil {
			t.Fatalf("update to %s: %v", status, err)
		}
		return r
	}

	if r := step("in_progress"); !r.Success {
		t.Fatalf("pending -> in_progress should succeed: %+v", r)
	}
	if r := step("waiting"); !r.Success {
		t.Fatalf("in_progress -> waiting should succeed: %+v", r)
	}

	task, _ := store.GetTask(context.Background(), "u1", taskID)
	if task.CompletedAt != nil {
		t.Error("completed_at must stay unset before completion")
	}

	if r := step("completed"); !r.Success {
		t.Fatalf("waiting -> completed should succeed: %+v", r)
	}
	task, _ = store.GetTask(context.Background(), "u1", taskID)
	if task.CompletedAt == nil {
		t.Fatal("completed_at must be set exactly on completion")
	}
	if time.Since(*task.CompletedAt) > time.Minute {
		t.Error("completed_at should be the completion instant")
	}

	// Terminal: no further transitions.
	if r := step("in_progress"); r.Success {
		t.Error("completed task must reject further transitions")
	}
}

func TestUpdateTaskToolRejectsForeignTask(t *testing.T) {
	store := storage.NewMemoryStore()
	create := NewCreateTaskTool(store)
	update := NewUpdateTaskTool(store)

	res, err := create.Execute(taskToolCtx("owner"), json.RawMessage(`{"description": "private"}`))
	if err != nil || !res.Success {
		t.Fatalf("create: %v %+v", err, res)
	}
	taskID := res.Result["task_id"].(string)

	input := json.RawMessage(fmt.Sprintf(`{"task_id": %q, "status": "completed"}`, taskID))
	r, err := update.Execute(taskToolCtx("intruder"), input)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success || r.Error != "Task not found" {
		t.Errorf("foreign task must look like a missing task, got %+v", r)
	}
}

func TestUpdateTaskToolUnknownID(t *testing.T) {
	store := storage.NewMemoryStore()
	update := NewUpdateTaskTool(store)

	r, err := update.Execute(taskToolCtx("u1"), json.RawMessage(`{"task_id": "ghost", "status": "completed"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success || r.Error != "Task not found" {
		t.Errorf("unknown task must fail cleanly, got %+v", r)
	}
}

func TestSaveInstructionTool(t *testing.T) {
	store := storage.NewMemoryStore()
	tool := NewSaveInstructionTool(store)

	res, err := tool.Execute(taskToolCtx("u1"), json.RawMessage(`{"instruction": "always cc compliance on client emails", "trigger_type": "email"}`))
	if err != nil || !res.Success {
		t.Fatalf("Execute: %v %+v", err, res)
	}

	insts, err := store.ListActiveInstructions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListActiveInstructions: %v", err)
	}
	if len(insts) != 1 {
		t.Fatalf("expected one active instruction, got %d", len(insts))
	}
	if insts[0].TriggerType != models.TriggerEmail || !insts[0].IsActive {
		t.Errorf("instruction = %+v", insts[0])
	}
}
