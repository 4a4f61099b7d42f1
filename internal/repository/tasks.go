package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/entitlements/pkg/pg"
	"github.com/dmitrymomot/entitlements/pkg/queue"
)

const taskColumns = `id, queue, task_type, task_name, payload, status, priority, retry_count, max_retries,
	correlation_id, scheduled_at, locked_until, locked_by, processed_at, error, created_at`

// TaskRepository is the PostgreSQL storage for pkg/queue. Claims use
// FOR UPDATE SKIP LOCKED so several workers can share one table.
type TaskRepository struct {
	db *pgxpool.Pool
}

var (
	_ queue.EnqueuerRepository  = (*TaskRepository)(nil)
	_ queue.WorkerRepository    = (*TaskRepository)(nil)
	_ queue.SchedulerRepository = (*TaskRepository)(nil)
)

// NewTaskRepository creates a repository over pool.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	if pool == nil {
		panic("repository: nil pool")
	}
	return &TaskRepository{db: pool}
}

func (r *TaskRepository) CreateTask(ctx context.Context, task *queue.Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, NULL, NULL, NULL, $12)`,
		task.ID, task.Queue, task.TaskType, task.TaskName, nullableJSON(task.Payload), task.Status,
		task.Priority, task.RetryCount, task.MaxRetries, task.CorrelationID, task.ScheduledAt, task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// ClaimTask locks the next due task in queues. Processing tasks whose lock
// expired are claimable again.
func (r *TaskRepository) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*queue.Task, error) {
	task, err := scanTask(r.db.QueryRow(ctx, `
		UPDATE tasks SET
			status = 'processing',
			locked_until = $3,
			locked_by = $2
		WHERE id = (
			SELECT id FROM tasks
			WHERE queue = ANY($1)
				AND (
					(status = 'pending' AND scheduled_at <= NOW())
					OR (status = 'processing' AND locked_until < NOW())
				)
			ORDER BY priority DESC, scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		queues, workerID, time.Now().Add(lockDuration)))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, queue.ErrNoTaskToClaim
		}
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

func (r *TaskRepository) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE tasks SET status = 'completed', processed_at = NOW(), locked_until = NULL, locked_by = NULL
		WHERE id = $1`,
		taskID)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepository) RetryTask(ctx context.Context, taskID uuid.UUID, errorMsg string, retryAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE tasks SET
			status = 'pending', retry_count = retry_count + 1, error = $2, scheduled_at = $3,
			locked_until = NULL, locked_by = NULL
		WHERE id = $1`,
		taskID, errorMsg, retryAt)
	if err != nil {
		return fmt.Errorf("retry task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrTaskNotFound
	}
	return nil
}

// MoveToDLQ deletes the task and records it in tasks_dlq in one transaction.
func (r *TaskRepository) MoveToDLQ(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		task, err := scanTask(tx.QueryRow(ctx,
			`DELETE FROM tasks WHERE id = $1 RETURNING `+taskColumns, taskID))
		if err != nil {
			if pg.IsNotFoundError(err) {
				return queue.ErrTaskNotFound
			}
			return fmt.Errorf("delete task: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO tasks_dlq (id, task_id, queue, task_type, task_name, payload, priority, error, retry_count, failed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
			uuid.New(), task.ID, task.Queue, task.TaskType, task.TaskName, nullableJSON(task.Payload),
			task.Priority, errorMsg, task.RetryCount,
		); err != nil {
			return fmt.Errorf("insert dead task: %w", err)
		}
		return nil
	})
}

func (r *TaskRepository) GetPendingTaskByName(ctx context.Context, taskName string) (*queue.Task, error) {
	task, err := scanTask(r.db.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE task_name = $1 AND status IN ('pending', 'processing')
		ORDER BY scheduled_at
		LIMIT 1`,
		taskName))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, queue.ErrTaskNotFound
		}
		return nil, fmt.Errorf("get pending task: %w", err)
	}
	return task, nil
}

// ListDead returns up to limit dead tasks, most recent first.
func (r *TaskRepository) ListDead(ctx context.Context, limit int) ([]queue.DeadTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, task_id, queue, task_type, task_name, payload, priority, error, retry_count, failed_at
		FROM tasks_dlq
		ORDER BY failed_at DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list dead tasks: %w", err)
	}
	defer rows.Close()

	var out []queue.DeadTask
	for rows.Next() {
		var d queue.DeadTask
		if err := rows.Scan(&d.ID, &d.TaskID, &d.Queue, &d.TaskType, &d.TaskName, &d.Payload,
			&d.Priority, &d.Error, &d.RetryCount, &d.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead task: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead tasks: %w", err)
	}
	return out, nil
}

// DeleteCompleted removes completed tasks processed before cutoff.
func (r *TaskRepository) DeleteCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM tasks WHERE status = 'completed' AND processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete completed tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanTask(row pgx.Row) (*queue.Task, error) {
	var t queue.Task
	err := row.Scan(
		&t.ID, &t.Queue, &t.TaskType, &t.TaskName, &t.Payload, &t.Status, &t.Priority, &t.RetryCount,
		&t.MaxRetries, &t.CorrelationID, &t.ScheduledAt, &t.LockedUntil, &t.LockedBy, &t.ProcessedAt,
		&t.Error, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
