package models

import "time"

// TaskStatus is the lifecycle state of a tracked task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskWaiting    TaskStatus = "waiting"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// taskTransitions is the allowed state graph. Completed and failed are
// terminal; waiting and in_progress may alternate while a task is blocked on
// an external party.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress, TaskCompleted, TaskFailed},
	TaskInProgress: {TaskWaiting, TaskCompleted, TaskFailed},
	TaskWaiting:    {TaskInProgress, TaskCompleted, TaskFailed},
}

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskWaiting, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// Terminal reports whether a task in this status can never change again.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransition reports whether a task may move from s to next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Task is a multi-step objective the assistant tracks across conversations.
// Memory holds arbitrary working state the model accumulates while driving
// the task forward.
type Task struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	Description      string         `json:"description"`
	Status           TaskStatus     `json:"status"`
	Memory           map[string]any `json:"memory,omitempty"`
	RelatedEmailID   string         `json:"related_email_id,omitempty"`
	RelatedContactID string         `json:"related_contact_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// TriggerType scopes an instruction to a class of external events.
type TriggerType string

const (
	TriggerEmail        TriggerType = "email"
	TriggerCalendar     TriggerType = "calendar"
	TriggerContact      TriggerType = "contact"
	TriggerNote         TriggerType = "note"
	TriggerTaskFollowup TriggerType = "task_followup"
	TriggerAlways       TriggerType = "always"
)

// Matches reports whether an instruction with this trigger applies to the
// given event type. "always" instructions match every event.
func (t TriggerType) Matches(eventType string) bool {
	return t == TriggerAlways || string(t) == eventType
}

// Instruction is a standing directive evaluated when matching external
// events arrive.
type Instruction struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Instruction string      `json:"instruction"`
	TriggerType TriggerType `json:"trigger_type"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
	LastUsedAt  *time.Time  `json:"last_used_at,omitempty"`
}
