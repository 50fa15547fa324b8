// Package scheduler runs the periodic follow-up sweep: tasks that have
// been waiting on an external party too long are fed back through the
// proactive evaluator so the agent can chase them.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/advisorlabs/clerk/pkg/models"
)

// Evaluator decides whether a follow-up event warrants action.
type Evaluator interface {
	ProactiveCheck(ctx context.Context, user models.UserRef, eventType string, eventData map[string]any) (bool, error)
}

// TaskSource lists tasks stuck in the waiting state.
type TaskSource interface {
	ListWaitingTasks(ctx context.Context, before time.Time) ([]*models.Task, error)
}

// Config configures the follow-up sweep.
type Config struct {
	// CronSpec is a standard 5-field cron expression. Default: every 15
	// minutes.
	CronSpec string

	// WaitingAge is how long a task must sit in waiting before it is
	// swept. Default: 24h.
	WaitingAge time.Duration

	Logger *slog.Logger
}

// Scheduler owns the cron loop. Create with New, then Start/Stop.
type Scheduler struct {
	tasks      TaskSource
	evaluator  Evaluator
	cronSpec   string
	waitingAge time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a Scheduler, applying config defaults.
func New(tasks TaskSource, evaluator Evaluator, cfg Config) *Scheduler {
	if cfg.CronSpec == "" {
		cfg.CronSpec = "*/15 * * * *"
	}
	if cfg.WaitingAge <= 0 {
		cfg.WaitingAge = 24 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tasks:      tasks,
		evaluator:  evaluator,
		cronSpec:   cfg.CronSpec,
		waitingAge: cfg.WaitingAge,
		logger:     logger.With("component", "scheduler"),
		now:        time.Now,
	}
}

// Start begins the cron loop. The context bounds every sweep.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.cronSpec, func() { s.Sweep(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.logger.Info("follow-up sweep scheduled", "cron", s.cronSpec, "waiting_age", s.waitingAge)
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Sweep runs one pass over overdue waiting tasks. Each task becomes a
// task_followup event for its owner; one failing task does not stop the
// rest of the sweep.
func (s *Scheduler) Sweep(ctx context.Context) {
	cutoff := s.now().UTC().Add(-s.waitingAge)

	tasks, err := s.tasks.ListWaitingTasks(ctx, cutoff)
	if err != nil {
		s.logger.Error("waiting task sweep failed", "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}
	s.logger.Info("sweeping waiting tasks", "count", len(tasks), "cutoff", cutoff)

	for _, task := range tasks {
		eventData := map[string]any{
			"task_id":     task.ID,
			"description": task.Description,
			"status":      string(task.Status),
			"updated_at":  task.UpdatedAt.Format(time.RFC3339),
		}
		if len(task.Memory) > 0 {
			eventData["memory"] = task.Memory
		}

		acted, err := s.evaluator.ProactiveCheck(ctx, models.UserRef{ID: task.UserID}, "task_followup", eventData)
		if err != nil {
			s.logger.Error("follow-up evaluation failed", "task_id", task.ID, "error", err)
			continue
		}
		if acted {
			s.logger.Info("follow-up action taken", "task_id", task.ID, "user_id", task.UserID)
		}
	}
}
