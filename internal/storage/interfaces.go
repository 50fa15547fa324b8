package storage

import (
	"context"
	"errors"
	"time"

	"github.com/advisorlabs/clerk/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// MessageStore persists conversation history.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	// RecentMessages returns up to limit messages for the user, oldest first.
	RecentMessages(ctx context.Context, userID string, limit int) ([]*models.ChatMessage, error)
}

// TaskStore persists tracked tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	// GetTask returns ErrNotFound for unknown ids and for tasks owned by a
	// different user.
	GetTask(ctx context.Context, userID, taskID string) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	// ListActiveTasks returns the user's non-terminal tasks, oldest first.
	ListActiveTasks(ctx context.Context, userID string) ([]*models.Task, error)
	// ListWaitingTasks returns waiting tasks, across users, last updated
	// before the cutoff. Used by the follow-up sweep.
	ListWaitingTasks(ctx context.Context, before time.Time) ([]*models.Task, error)
}

// InstructionStore persists standing instructions.
type InstructionStore interface {
	SaveInstruction(ctx context.Context, inst *models.Instruction) error
	ListActiveInstructions(ctx context.Context, userID string) ([]*models.Instruction, error)
	// MatchingInstructions returns active instructions whose trigger matches
	// the event type, including "always" instructions.
	MatchingInstructions(ctx context.Context, userID, eventType string) ([]*models.Instruction, error)
	TouchInstruction(ctx context.Context, id string, usedAt time.Time) error
	DeactivateInstruction(ctx context.Context, userID, id string) error
}

// ConsentStore persists authorization grants. One logical record exists per
// (user, action type) pair.
type ConsentStore interface {
	GetConsent(ctx context.Context, userID, actionType string) (*models.Consent, error)
	// GrantConsent creates the record or reactivates the existing one,
	// replacing scope, conditions and expiry. Lifetime use counters survive
	// re-grants.
	GrantConsent(ctx context.Context, consent *models.Consent) error
	// RevokeConsent flips the grant off immediately. Returns false when no
	// granted record existed.
	RevokeConsent(ctx context.Context, userID, actionType string, at time.Time) (bool, error)
	// UseConsent atomically verifies the grant is still live (granted, not
	// revoked, not expired, under any per-day cap) and increments its usage
	// counters. Returns false without incrementing when the check fails.
	UseConsent(ctx context.Context, userID, actionType string, now time.Time) (bool, error)
	ListConsents(ctx context.Context, userID string) ([]*models.Consent, error)
}

// AuditStore persists the append-only audit trail.
type AuditStore interface {
	AppendAudit(ctx context.Context, rec *models.AuditRecord) error
	ListAuditRecords(ctx context.Context, userID string, limit int) ([]*models.AuditRecord, error)
}

// Store groups all persistence concerns behind one handle.
type Store interface {
	MessageStore
	TaskStore
	InstructionStore
	ConsentStore
	AuditStore
	Close() error
}
