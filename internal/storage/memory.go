package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/advisorlabs/clerk/pkg/models"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu           sync.RWMutex
	messages     map[string][]*models.ChatMessage // keyed by user id
	tasks        map[string]*models.Task
	instructions map[string]*models.Instruction
	consents     map[string]*models.Consent // keyed by user id + "\x00" + action type
	audits       []*models.AuditRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:     make(map[string][]*models.ChatMessage),
		tasks:        make(map[string]*models.Task),
		instructions: make(map[string]*models.Instruction),
		consents:     make(map[string]*models.Consent),
	}
}

func (s *MemoryStore) Close() error { return nil }

func consentKey(userID, actionType string) string {
	return userID + "\x00" + actionType
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg == nil || msg.UserID == "" {
		return fmt.Errorf("message user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	s.messages[msg.UserID] = append(s.messages[msg.UserID], &cp)
	return nil
}

func (s *MemoryStore) RecentMessages(ctx context.Context, userID string, limit int) ([]*models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[userID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*models.ChatMessage, len(msgs))
	for i, m := range msgs {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task == nil || task.UserID == "" {
		return fmt.Errorf("task user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if _, exists := s.tasks[task.ID]; exists {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, userID, taskID string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok || task.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *task
	return &cp, nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, task *models.Task) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tasks[task.ID]
	if !ok || existing.UserID != task.UserID {
		return ErrNotFound
	}
	task.CreatedAt = existing.CreatedAt
	task.UpdatedAt = time.Now().UTC()
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *MemoryStore) ListActiveTasks(ctx context.Context, userID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Task
	for _, task := range s.tasks {
		if task.UserID != userID || task.Status.Terminal() {
			continue
		}
		cp := *task
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListWaitingTasks(ctx context.Context, before time.Time) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Task
	for _, task := range s.tasks {
		if task.Status != models.TaskWaiting || !task.UpdatedAt.Before(before) {
			continue
		}
		cp := *task
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) SaveInstruction(ctx context.Context, inst *models.Instruction) error {
	if inst == nil || inst.UserID == "" {
		return fmt.Errorf("instruction user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	cp := *inst
	s.instructions[inst.ID] = &cp
	return nil
}

func (s *MemoryStore) ListActiveInstructions(ctx context.Context, userID string) ([]*models.Instruction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Instruction
	for _, inst := range s.instructions {
		if inst.UserID != userID || !inst.IsActive {
			continue
		}
		cp := *inst
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) MatchingInstructions(ctx context.Context, userID, eventType string) ([]*models.Instruction, error) {
	active, err := s.ListActiveInstructions(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []*models.Instruction
	for _, inst := range active {
		if inst.TriggerType.Matches(eventType) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (s *MemoryStore) TouchInstruction(ctx context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instructions[id]
	if !ok {
		return ErrNotFound
	}
	inst.LastUsedAt = &usedAt
	return nil
}

func (s *MemoryStore) DeactivateInstruction(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instructions[id]
	if !ok || inst.UserID != userID {
		return ErrNotFound
	}
	inst.IsActive = false
	return nil
}

func (s *MemoryStore) GetConsent(ctx context.Context, userID, actionType string) (*models.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consents[consentKey(userID, actionType)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GrantConsent(ctx context.Context, consent *models.Consent) error {
	if consent == nil || consent.UserID == "" || consent.ActionType == "" {
		return fmt.Errorf("consent user id and action type are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	key := consentKey(consent.UserID, consent.ActionType)
	if existing, ok := s.consents[key]; ok {
		consent.ID = existing.ID
		consent.UseCount = existing.UseCount
		consent.CreatedAt = existing.CreatedAt
	} else {
		if consent.ID == "" {
			consent.ID = uuid.NewString()
		}
		consent.CreatedAt = now
	}
	consent.IsGranted = true
	consent.RevokedAt = nil
	if consent.GrantedAt.IsZero() {
		consent.GrantedAt = now
	}
	consent.UpdatedAt = now
	cp := *consent
	s.consents[key] = &cp
	return nil
}

func (s *MemoryStore) RevokeConsent(ctx context.Context, userID, actionType string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[consentKey(userID, actionType)]
	if !ok || !c.IsGranted {
		return false, nil
	}
	c.IsGranted = false
	c.RevokedAt = &at
	c.UpdatedAt = at
	return true, nil
}

func (s *MemoryStore) UseConsent(ctx context.Context, userID, actionType string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[consentKey(userID, actionType)]
	if !ok {
		return false, nil
	}
	if valid, _ := c.ValidAt(now); !valid {
		return false, nil
	}
	day := models.UseDayKey(now)
	dayCount := 0
	if c.UseDay == day {
		dayCount = c.DayUseCount
	}
	if c.Conditions != nil && c.Conditions.MaxPerDay > 0 && dayCount >= c.Conditions.MaxPerDay {
		return false, nil
	}
	c.UseCount++
	c.DayUseCount = dayCount + 1
	c.UseDay = day
	used := now
	c.LastUsedAt = &used
	c.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) ListConsents(ctx context.Context, userID string) ([]*models.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Consent
	for _, c := range s.consents {
		if c.UserID != userID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionType < out[j].ActionType })
	return out, nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, rec *models.AuditRecord) error {
	if rec == nil {
		return fmt.Errorf("audit record is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	s.audits = append(s.audits, &cp)
	return nil
}

func (s *MemoryStore) ListAuditRecords(ctx context.Context, userID string, limit int) ([]*models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AuditRecord
	for i := len(s.audits) - 1; i >= 0; i-- {
		if userID != "" && s.audits[i].UserID != userID {
			continue
		}
		cp := *s.audits[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
