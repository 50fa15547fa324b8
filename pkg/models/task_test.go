package models

import "testing"

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{"pending to in_progress", TaskPending, TaskInProgress, true},
		{"pending to completed", TaskPending, TaskCompleted, true},
		{"pending to failed", TaskPending, TaskFailed, true},
		{"pending to waiting", TaskPending, TaskWaiting, false},
		{"in_progress to waiting", TaskInProgress, TaskWaiting, true},
		{"waiting back to in_progress", TaskWaiting, TaskInProgress, true},
		{"waiting to completed", TaskWaiting, TaskCompleted, true},
		{"completed is terminal", TaskCompleted, TaskInProgress, false},
		{"completed cannot fail", TaskCompleted, TaskFailed, false},
		{"failed is terminal", TaskFailed, TaskPending, false},
		{"no self transition", TaskInProgress, TaskInProgress, false},
		{"no regression to pending", TaskInProgress, TaskPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	if !TaskCompleted.Terminal() || !TaskFailed.Terminal() {
		t.Error("completed and failed must be terminal")
	}
	for _, s := range []TaskStatus{TaskPending, TaskInProgress, TaskWaiting} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTriggerTypeMatches(t *testing.T) {
	if !TriggerEmail.Matches("email") {
		t.Error("email trigger should match email events")
	}
	if TriggerEmail.Matches("calendar") {
		t.Error("email trigger should not match calendar events")
	}
	if !TriggerAlways.Matches("email") || !TriggerAlways.Matches("task_followup") {
		t.Error("always trigger should match any event type")
	}
}
