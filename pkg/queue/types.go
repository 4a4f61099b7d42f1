package queue

import (
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is used when no queue is specified.
const DefaultQueueName = "default"

// TaskType distinguishes enqueued work from scheduler-created work.
type TaskType string

const (
	TaskTypeOneTime  TaskType = "one-time"
	TaskTypePeriodic TaskType = "periodic"
)

// TaskStatus is the processing status of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
)

// Priority orders claimable tasks, 0-100, higher first.
type Priority int8

const (
	PriorityMin     Priority = 0
	PriorityLow     Priority = 25
	PriorityMedium  Priority = 50
	PriorityHigh    Priority = 75
	PriorityMax     Priority = 100
	PriorityDefault Priority = PriorityMedium
)

// Valid checks if the priority is within range.
func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

// Task is a unit of work. RetryCount counts failed attempts so far; a task
// runs at most MaxRetries+1 times.
type Task struct {
	ID            uuid.UUID  `json:"id"`
	Queue         string     `json:"queue"`
	TaskType      TaskType   `json:"task_type"`
	TaskName      string     `json:"task_name"`
	Payload       []byte     `json:"payload,omitempty"`
	Status        TaskStatus `json:"status"`
	Priority      Priority   `json:"priority"`
	RetryCount    int8       `json:"retry_count"`
	MaxRetries    int8       `json:"max_retries"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	LockedBy      *uuid.UUID `json:"locked_by,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	Error         *string    `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// DeadTask is a task that will not be retried, kept for inspection.
type DeadTask struct {
	ID         uuid.UUID `json:"id"`
	TaskID     uuid.UUID `json:"task_id"`
	Queue      string    `json:"queue"`
	TaskType   TaskType  `json:"task_type"`
	TaskName   string    `json:"task_name"`
	Payload    []byte    `json:"payload,omitempty"`
	Priority   Priority  `json:"priority"`
	Error      string    `json:"error"`
	RetryCount int8      `json:"retry_count"`
	FailedAt   time.Time `json:"failed_at"`
}

// Task processing outcomes reported to a TaskObserver.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeDead      = "dead"
)
