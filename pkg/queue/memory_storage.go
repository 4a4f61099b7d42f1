package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements every queue repository in memory. It backs the
// memory driver and tests; tasks do not survive a restart.
type MemoryStorage struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
	dead  []DeadTask
	now   func() time.Time
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks: make(map[uuid.UUID]*Task),
		now:   time.Now,
	}
}

// CreateTask stores a copy of task.
func (ms *MemoryStorage) CreateTask(_ context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}
	t := *task
	ms.tasks[task.ID] = &t
	return nil
}

// ClaimTask locks the due task with the highest priority, oldest schedule
// first. Processing tasks with an expired lock are claimable again.
func (ms *MemoryStorage) ClaimTask(_ context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	var best *Task
	for _, t := range ms.tasks {
		if !slices.Contains(queues, t.Queue) || !claimable(t, now) {
			continue
		}
		if best == nil ||
			t.Priority > best.Priority ||
			(t.Priority == best.Priority && t.ScheduledAt.Before(best.ScheduledAt)) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNoTaskToClaim
	}

	lockedUntil := now.Add(lockDuration)
	best.Status = TaskStatusProcessing
	best.LockedUntil = &lockedUntil
	best.LockedBy = &workerID

	t := *best
	return &t, nil
}

func claimable(t *Task, now time.Time) bool {
	switch t.Status {
	case TaskStatusPending:
		return !t.ScheduledAt.After(now)
	case TaskStatusProcessing:
		return t.LockedUntil != nil && t.LockedUntil.Before(now)
	default:
		return false
	}
}

// CompleteTask marks a task completed.
func (ms *MemoryStorage) CompleteTask(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	now := ms.now()
	t.Status = TaskStatusCompleted
	t.ProcessedAt = &now
	t.LockedUntil = nil
	t.LockedBy = nil
	return nil
}

// DeleteCompleted removes completed tasks processed before cutoff.
func (ms *MemoryStorage) DeleteCompleted(_ context.Context, cutoff time.Time) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var n int64
	for id, t := range ms.tasks {
		if t.Status == TaskStatusCompleted && t.ProcessedAt != nil && t.ProcessedAt.Before(cutoff) {
			delete(ms.tasks, id)
			n++
		}
	}
	return n, nil
}

// RetryTask makes a failed task pending again at retryAt.
func (ms *MemoryStorage) RetryTask(_ context.Context, taskID uuid.UUID, errorMsg string, retryAt time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = TaskStatusPending
	t.RetryCount++
	t.Error = &errorMsg
	t.ScheduledAt = retryAt
	t.LockedUntil = nil
	t.LockedBy = nil
	return nil
}

// MoveToDLQ removes the task and keeps it as a DeadTask.
func (ms *MemoryStorage) MoveToDLQ(_ context.Context, taskID uuid.UUID, errorMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	delete(ms.tasks, taskID)
	ms.dead = append(ms.dead, DeadTask{
		ID:         uuid.New(),
		TaskID:     t.ID,
		Queue:      t.Queue,
		TaskType:   t.TaskType,
		TaskName:   t.TaskName,
		Payload:    t.Payload,
		Priority:   t.Priority,
		Error:      errorMsg,
		RetryCount: t.RetryCount,
		FailedAt:   ms.now(),
	})
	return nil
}

// GetPendingTaskByName returns a pending or in-flight task with the given name.
func (ms *MemoryStorage) GetPendingTaskByName(_ context.Context, taskName string) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, t := range ms.tasks {
		if t.TaskName == taskName && (t.Status == TaskStatusPending || t.Status == TaskStatusProcessing) {
			c := *t
			return &c, nil
		}
	}
	return nil, ErrTaskNotFound
}

// GetTask returns a copy of a live task.
func (ms *MemoryStorage) GetTask(_ context.Context, taskID uuid.UUID) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	c := *t
	return &c, nil
}

// ListDead returns up to limit dead tasks, most recent first.
func (ms *MemoryStorage) ListDead(_ context.Context, limit int) ([]DeadTask, error) {
	if limit <= 0 {
		limit = 50
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	out := slices.Clone(ms.dead)
	slices.Reverse(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
