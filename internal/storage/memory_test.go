package storage

import (
	"context"
	"testing"
	"time"

	"github.com/advisorlabs/clerk/pkg/models"
)

func TestMemoryStoreMessages(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 5; i++ {
		msg := &models.ChatMessage{
			UserID:    "u1",
			Role:      models.RoleUser,
			Content:   "hello",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if msg.ID == "" {
			t.Fatal("AppendMessage should assign an id")
		}
	}

	msgs, err := s.RecentMessages(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if !msgs[0].CreatedAt.Before(msgs[2].CreatedAt) {
		t.Error("messages should be returned oldest first")
	}

	other, err := s.RecentMessages(ctx, "u2", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no messages for other user, got %d", len(other))
	}
}

func TestMemoryStoreTasks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	task := &models.Task{UserID: "u1", Description: "follow up", Status: models.TaskPending}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if _, err := s.GetTask(ctx, "u2", task.ID); err != ErrNotFound {
		t.Errorf("foreign user lookup should return ErrNotFound, got %v", err)
	}

	got, err := s.GetTask(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != models.TaskPending {
		t.Errorf("status = %s, want pending", got.Status)
	}

	got.Status = models.TaskWaiting
	got.UpdatedAt = time.Now().Add(-48 * time.Hour)
	if err := s.UpdateTask(ctx, got); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	active, err := s.ListActiveTasks(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActiveTasks: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active task, got %d", len(active))
	}

	unknown := &models.Task{ID: "nope", UserID: "u1", Status: models.TaskPending}
	if err := s.UpdateTask(ctx, unknown); err != ErrNotFound {
		t.Errorf("updating unknown task should return ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreWaitingSweep(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	stale := &models.Task{UserID: "u1", Description: "waiting on reply", Status: models.TaskWaiting}
	if err := s.CreateTask(ctx, stale); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	fresh := &models.Task{UserID: "u1", Description: "just parked", Status: models.TaskWaiting}
	if err := s.CreateTask(ctx, fresh); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// Only the stale task falls before the cutoff.
	s.mu.Lock()
	s.tasks[stale.ID].UpdatedAt = time.Now().Add(-72 * time.Hour)
	s.mu.Unlock()

	got, err := s.ListWaitingTasks(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListWaitingTasks: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("expected only the stale task, got %d", len(got))
	}
}

func TestMemoryStoreInstructions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	emailInst := &models.Instruction{UserID: "u1", Instruction: "flag urgent emails", TriggerType: models.TriggerEmail, IsActive: true}
	alwaysInst := &models.Instruction{UserID: "u1", Instruction: "be brief", TriggerType: models.TriggerAlways, IsActive: true}
	inactive := &models.Instruction{UserID: "u1", Instruction: "old rule", TriggerType: models.TriggerEmail, IsActive: false}
	for _, inst := range []*models.Instruction{emailInst, alwaysInst, inactive} {
		if err := s.SaveInstruction(ctx, inst); err != nil {
			t.Fatalf("SaveInstruction: %v", err)
		}
	}

	matched, err := s.MatchingInstructions(ctx, "u1", "email")
	if err != nil {
		t.Fatalf("MatchingInstructions: %v", err)
	}
	if len(matched) != 2 {
		t.Fatalf("expected email + always instructions, got %d", len(matched))
	}

	matched, err = s.MatchingInstructions(ctx, "u1", "calendar")
	if err != nil {
		t.Fatalf("MatchingInstructions: %v", err)
	}
	if len(matched) != 1 || matched[0].TriggerType != models.TriggerAlways {
		t.Fatalf("calendar events should match only the always instruction")
	}

	if err := s.DeactivateInstruction(ctx, "u1", alwaysInst.ID); err != nil {
		t.Fatalf("DeactivateInstruction: %v", err)
	}
	matched, _ = s.MatchingInstructions(ctx, "u1", "calendar")
	if len(matched) != 0 {
		t.Error("deactivated instruction should not match")
	}
}

func TestMemoryStoreConsentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	if ok, err := s.UseConsent(ctx, "u1", "send_email", now); err != nil || ok {
		t.Fatalf("UseConsent without grant = %v, %v; want false, nil", ok, err)
	}

	if err := s.GrantConsent(ctx, &models.Consent{UserID: "u1", ActionType: "send_email"}); err != nil {
		t.Fatalf("GrantConsent: %v", err)
	}

	for i := 1; i <= 3; i++ {
		ok, err := s.UseConsent(ctx, "u1", "send_email", now)
		if err != nil || !ok {
			t.Fatalf("UseConsent #%d = %v, %v", i, ok, err)
		}
	}
	c, err := s.GetConsent(ctx, "u1", "send_email")
	if err != nil {
		t.Fatalf("GetConsent: %v", err)
	}
	if c.UseCount != 3 {
		t.Errorf("use_count = %d, want 3", c.UseCount)
	}
	if c.LastUsedAt == nil {
		t.Error("last_used_at should be set after use")
	}

	revoked, err := s.RevokeConsent(ctx, "u1", "send_email", now)
	if err != nil || !revoked {
		t.Fatalf("RevokeConsent = %v, %v", revoked, err)
	}
	if ok, _ := s.UseConsent(ctx, "u1", "send_email", now); ok {
		t.Error("use after revoke must be denied")
	}
	c, _ = s.GetConsent(ctx, "u1", "send_email")
	if c.UseCount != 3 {
		t.Errorf("denied use must not increment use_count, got %d", c.UseCount)
	}

	// Re-grant reuses the record and keeps lifetime counters.
	if err := s.GrantConsent(ctx, &models.Consent{UserID: "u1", ActionType: "send_email"}); err != nil {
		t.Fatalf("re-grant: %v", err)
	}
	c, _ = s.GetConsent(ctx, "u1", "send_email")
	if !c.IsGranted || c.RevokedAt != nil {
		t.Error("re-grant should clear revocation")
	}
	if c.UseCount != 3 {
		t.Errorf("re-grant should preserve use_count, got %d", c.UseCount)
	}
}

func TestMemoryStoreConsentMaxPerDay(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	err := s.GrantConsent(ctx, &models.Consent{
		UserID:     "u1",
		ActionType: "send_email",
		Conditions: &models.ConsentConditions{MaxPerDay: 2},
	})
	if err != nil {
		t.Fatalf("GrantConsent: %v", err)
	}

	for i := 0; i < 2; i++ {
		if ok, _ := s.UseConsent(ctx, "u1", "send_email", now); !ok {
			t.Fatalf("use %d under cap should be allowed", i+1)
		}
	}
	if ok, _ := s.UseConsent(ctx, "u1", "send_email", now); ok {
		t.Error("third use should exceed the per-day cap")
	}

	// The counter resets on date rollover.
	nextDay := now.Add(24 * time.Hour)
	if ok, _ := s.UseConsent(ctx, "u1", "send_email", nextDay); !ok {
		t.Error("cap should reset on the next day")
	}
}

func TestMemoryStoreConsentExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	expiry := now.Add(-time.Minute)

	if err := s.GrantConsent(ctx, &models.Consent{
		UserID: "u1", ActionType: "create_task", ExpiresAt: &expiry,
	}); err != nil {
		t.Fatalf("GrantConsent: %v", err)
	}
	if ok, _ := s.UseConsent(ctx, "u1", "create_task", now); ok {
		t.Error("expired consent must be denied")
	}
}

func TestMemoryStoreAudit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 4; i++ {
		rec := &models.AuditRecord{UserID: "u1", Action: "tool:send_email", Status: models.AuditSuccess}
		if err := s.AppendAudit(ctx, rec); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}
	recs, err := s.ListAuditRecords(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("ListAuditRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected limit to apply, got %d records", len(recs))
	}
}
