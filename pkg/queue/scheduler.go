package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SchedulerRepository is the storage side of periodic scheduling.
type SchedulerRepository interface {
	CreateTask(ctx context.Context, task *Task) error

	// GetPendingTaskByName returns the pending task with the given name, or
	// ErrTaskNotFound.
	GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error)
}

// Scheduler creates periodic tasks. At most one pending task per name exists
// at a time, so several scheduler replicas may run side by side.
type Scheduler struct {
	repo     SchedulerRepository
	tasks    map[string]*scheduledTask
	mu       sync.RWMutex
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

type scheduledTask struct {
	name            string
	schedule        Schedule
	queue           string
	priority        Priority
	maxRetries      int8
	lastScheduledAt *time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCheckInterval sets how often the scheduler looks for due tasks.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// SchedulerTaskOption configures one periodic task.
type SchedulerTaskOption func(*scheduledTask)

func WithTaskQueue(queue string) SchedulerTaskOption {
	return func(t *scheduledTask) {
		if queue != "" {
			t.queue = queue
		}
	}
}

func WithTaskPriority(priority Priority) SchedulerTaskOption {
	return func(t *scheduledTask) {
		if priority.Valid() {
			t.priority = priority
		}
	}
}

func WithTaskMaxRetries(maxRetries int8) SchedulerTaskOption {
	return func(t *scheduledTask) {
		if maxRetries >= 0 && maxRetries <= 10 {
			t.maxRetries = maxRetries
		}
	}
}

// NewScheduler creates a periodic task scheduler.
func NewScheduler(repo SchedulerRepository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	s := &Scheduler{
		repo:     repo,
		tasks:    make(map[string]*scheduledTask),
		interval: 15 * time.Second,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddTask registers a periodic task. Its handler is registered on a Worker
// with NewPeriodicTaskHandler under the same name.
func (s *Scheduler) AddTask(name string, schedule Schedule, opts ...SchedulerTaskOption) error {
	if schedule == nil {
		return ErrInvalidSchedule
	}

	task := &scheduledTask{
		name:       name,
		schedule:   schedule,
		queue:      DefaultQueueName,
		priority:   PriorityDefault,
		maxRetries: 0,
	}
	for _, opt := range opts {
		opt(task)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("%w: %s", ErrTaskAlreadyRegistered, name)
	}
	s.tasks[name] = task

	s.logger.Info("registered periodic task",
		slog.String("task_name", name),
		slog.String("schedule", schedule.String()))
	return nil
}

// Run checks for due tasks until ctx is done, then returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.RLock()
	n := len(s.tasks)
	s.mu.RUnlock()
	if n == 0 {
		return ErrSchedulerNotConfigured
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.RLock()
	tasks := make([]*scheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.RUnlock()

	now := s.now()
	for _, t := range tasks {
		if err := s.scheduleIfDue(ctx, t, now); err != nil {
			s.logger.ErrorContext(ctx, "failed to schedule periodic task",
				slog.String("task_name", t.name),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Scheduler) scheduleIfDue(ctx context.Context, t *scheduledTask, now time.Time) error {
	s.mu.RLock()
	last := t.lastScheduledAt
	s.mu.RUnlock()

	var next time.Time
	if last == nil {
		next = t.schedule.Next(now)
	} else {
		next = t.schedule.Next(*last)
		if next.After(now) {
			return nil
		}
	}

	existing, err := s.repo.GetPendingTaskByName(ctx, t.name)
	switch {
	case err == nil && existing != nil:
		// Another replica, or a previous run, already queued it.
		s.setLast(t, existing.ScheduledAt)
		return nil
	case err != nil && !errors.Is(err, ErrTaskNotFound):
		return fmt.Errorf("look up pending task: %w", err)
	}

	// A missed run is scheduled for now instead of replaying the backlog.
	if next.Before(now) {
		next = now
	}
	task := &Task{
		ID:          uuid.New(),
		Queue:       t.queue,
		TaskType:    TaskTypePeriodic,
		TaskName:    t.name,
		Status:      TaskStatusPending,
		Priority:    t.priority,
		MaxRetries:  t.maxRetries,
		ScheduledAt: next,
		CreatedAt:   now,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create periodic task: %w", err)
	}
	s.setLast(t, next)

	s.logger.DebugContext(ctx, "created periodic task",
		slog.String("task_name", t.name),
		slog.Time("scheduled_for", next))
	return nil
}

func (s *Scheduler) setLast(t *scheduledTask, at time.Time) {
	s.mu.Lock()
	t.lastScheduledAt = &at
	s.mu.Unlock()
}

// ListTasks returns the registered periodic task names.
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}
