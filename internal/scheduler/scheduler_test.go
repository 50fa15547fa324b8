package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/advisorlabs/clerk/pkg/models"
)

type fakeSource struct {
	tasks  []*models.Task
	err    error
	before time.Time
}

func (f *fakeSource) ListWaitingTasks(ctx context.Context, before time.Time) ([]*models.Task, error) {
	f.before = before
	return f.tasks, f.err
}

type fakeEvaluator struct {
	mu     sync.Mutex
	events []string
	users  []string
	acted  bool
	err    error
}

func (f *fakeEvaluator) ProactiveCheck(ctx context.Context, user models.UserRef, eventType string, eventData map[string]any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	f.users = append(f.users, user.ID)
	return f.acted, f.err
}

func waitingTask(id, userID string) *models.Task {
	return &models.Task{
		ID:          id,
		UserID:      userID,
		Description: "waiting on client reply",
		Status:      models.TaskWaiting,
		UpdatedAt:   time.Now().Add(-48 * time.Hour),
	}
}

func TestSweepEvaluatesEachTask(t *testing.T) {
	source := &fakeSource{tasks: []*models.Task{
		waitingTask("t1", "u1"),
		waitingTask("t2", "u2"),
	}}
	eval := &fakeEvaluator{acted: true}

	s := New(source, eval, Config{WaitingAge: 24 * time.Hour})
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	s.Sweep(t.Context())

	if len(eval.events) != 2 {
		t.Fatalf("evaluated %d tasks, want 2", len(eval.events))
	}
	for _, ev := range eval.events {
		if ev != "task_followup" {
			t.Errorf("event type = %q, want task_followup", ev)
		}
	}
	if eval.users[0] != "u1" || eval.users[1] != "u2" {
		t.Errorf("users = %v", eval.users)
	}

	wantCutoff := time.Date(2026, 2, 29, 12, 0, 0, 0, time.UTC)
	if !source.before.Equal(wantCutoff) {
		t.Errorf("cutoff = %v, want %v", source.before, wantCutoff)
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	source := &fakeSource{tasks: []*models.Task{
		waitingTask("t1", "u1"),
		waitingTask("t2", "u1"),
	}}
	eval := &fakeEvaluator{err: errors.New("model down")}

	s := New(source, eval, Config{})
	s.Sweep(t.Context())

	if len(eval.events) != 2 {
		t.Errorf("evaluated %d tasks despite failures, want 2", len(eval.events))
	}
}

func TestSweepStoreErrorIsSwallowed(t *testing.T) {
	source := &fakeSource{err: errors.New("db gone")}
	eval := &fakeEvaluator{}

	s := New(source, eval, Config{})
	s.Sweep(t.Context())

	if len(eval.events) != 0 {
		t.Errorf("evaluator ran %d times after a listing failure", len(eval.events))
	}
}

func TestStartRejectsBadCron(t *testing.T) {
	s := New(&fakeSource{}, &fakeEvaluator{}, Config{CronSpec: "not a cron"})
	if err := s.Start(t.Context()); err == nil {
		s.Stop()
		t.Error("expected error for invalid cron spec")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	s := New(&fakeSource{}, &fakeEvaluator{}, Config{CronSpec: "@hourly"})
	if err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(t.Context()); err != nil {
		t.Errorf("second Start() error = %v", err)
	}
	s.Stop()
	s.Stop()
}
