package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dmitrymomot/entitlements/pkg/requestid"
)

// WorkerRepository is the storage side of task processing.
type WorkerRepository interface {
	// ClaimTask locks the next due task for workerID, or returns ErrNoTaskToClaim.
	// Tasks whose lock expired are claimable again.
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error)

	CompleteTask(ctx context.Context, taskID uuid.UUID) error

	// RetryTask records the failure, increments RetryCount and makes the task
	// pending again at retryAt.
	RetryTask(ctx context.Context, taskID uuid.UUID, errorMsg string, retryAt time.Time) error

	// MoveToDLQ records the failure and moves the task to the dead letter queue.
	MoveToDLQ(ctx context.Context, taskID uuid.UUID, errorMsg string) error
}

// TaskObserver is told how each processed task ended.
type TaskObserver interface {
	TaskProcessed(taskName, outcome string, d time.Duration)
}

// Worker claims due tasks and dispatches them to handlers.
type Worker struct {
	repo     WorkerRepository
	handlers map[string]Handler
	mu       sync.RWMutex
	queues   []string
	workerID uuid.UUID
	slots    *semaphore.Weighted
	running  atomic.Bool

	pullInterval time.Duration
	lockTimeout  time.Duration
	retryBackoff time.Duration
	logger       *slog.Logger
	observer     TaskObserver
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithQueues sets which queues the worker pulls from.
func WithQueues(queues ...string) WorkerOption {
	return func(w *Worker) {
		if len(queues) > 0 {
			w.queues = queues
		}
	}
}

func WithPullInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pullInterval = d
		}
	}
}

// WithLockTimeout bounds how long a claimed task may run before another worker
// may claim it again.
func WithLockTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.lockTimeout = d
		}
	}
}

// WithRetryBackoff sets the linear backoff step between attempts.
func WithRetryBackoff(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.retryBackoff = d
		}
	}
}

func WithMaxConcurrentTasks(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithTaskObserver(o TaskObserver) WorkerOption {
	return func(w *Worker) { w.observer = o }
}

// NewWorker creates a task worker.
func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	w := &Worker{
		repo:         repo,
		handlers:     make(map[string]Handler),
		queues:       []string{DefaultQueueName},
		workerID:     uuid.New(),
		slots:        semaphore.NewWeighted(1),
		pullInterval: time.Second,
		lockTimeout:  2 * time.Minute,
		retryBackoff: 30 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// RegisterHandlers registers task handlers by name.
func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		if _, dup := w.handlers[h.Name()]; dup {
			return fmt.Errorf("%w: %s", ErrTaskAlreadyRegistered, h.Name())
		}
		w.handlers[h.Name()] = h
	}
	return nil
}

// Run processes tasks until ctx is done, then waits for in-flight tasks and
// returns nil. It is suitable for an errgroup.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.RLock()
	n := len(w.handlers)
	w.mu.RUnlock()
	if n == 0 {
		return ErrNoHandlers
	}
	if !w.running.CompareAndSwap(false, true) {
		return ErrWorkerRunning
	}
	defer w.running.Store(false)

	w.logger.InfoContext(ctx, "worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Any("queues", w.queues))

	var wg sync.WaitGroup
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		w.fill(ctx, &wg)

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping, waiting for active tasks",
				slog.String("worker_id", w.workerID.String()))
			wg.Wait()
			return nil
		case <-ticker.C:
		}
	}
}

// fill claims tasks while free slots and due tasks remain.
func (w *Worker) fill(ctx context.Context, wg *sync.WaitGroup) {
	for ctx.Err() == nil && w.slots.TryAcquire(1) {
		task, err := w.repo.ClaimTask(ctx, w.workerID, w.queues, w.lockTimeout)
		if err != nil {
			w.slots.Release(1)
			if !errors.Is(err, ErrNoTaskToClaim) && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "failed to claim task",
					slog.String("worker_id", w.workerID.String()),
					slog.String("error", err.Error()))
			}
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer w.slots.Release(1)
			// Shutdown lets claimed tasks finish within the lock timeout.
			w.process(context.WithoutCancel(ctx), task)
		}()
	}
}

func (w *Worker) process(ctx context.Context, task *Task) {
	start := time.Now()
	if task.CorrelationID != "" {
		ctx = requestid.WithContext(ctx, task.CorrelationID)
	}
	log := w.logger.With(
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName))

	w.mu.RLock()
	handler, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()

	var err error
	if ok {
		err = w.handle(ctx, handler, task)
	} else {
		err = Permanent(fmt.Errorf("%w: %s", ErrHandlerNotFound, task.TaskName))
	}
	duration := time.Since(start)

	var outcome string
	switch {
	case err == nil:
		outcome = OutcomeCompleted
		if cerr := w.repo.CompleteTask(ctx, task.ID); cerr != nil {
			log.ErrorContext(ctx, "failed to mark task completed", slog.String("error", cerr.Error()))
		}
		log.DebugContext(ctx, "task completed", slog.Duration("duration", duration))

	case IsPermanent(err) || task.RetryCount >= task.MaxRetries:
		outcome = OutcomeDead
		if merr := w.repo.MoveToDLQ(ctx, task.ID, err.Error()); merr != nil {
			log.ErrorContext(ctx, "failed to move task to dead letter queue", slog.String("error", merr.Error()))
		}
		log.ErrorContext(ctx, "task moved to dead letter queue",
			slog.Int("retry_count", int(task.RetryCount)),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))

	default:
		outcome = OutcomeRetried
		retryAt := time.Now().Add(time.Duration(task.RetryCount+1) * w.retryBackoff)
		if rerr := w.repo.RetryTask(ctx, task.ID, err.Error(), retryAt); rerr != nil {
			log.ErrorContext(ctx, "failed to reschedule task", slog.String("error", rerr.Error()))
		}
		log.WarnContext(ctx, "task failed, will retry",
			slog.Int("retry_count", int(task.RetryCount)+1),
			slog.Int("max_retries", int(task.MaxRetries)),
			slog.Time("retry_at", retryAt),
			slog.String("error", err.Error()))
	}

	if w.observer != nil {
		w.observer.TaskProcessed(task.TaskName, outcome, duration)
	}
}

func (w *Worker) handle(ctx context.Context, h Handler, task *Task) (err error) {
	ctx, cancel := context.WithTimeout(ctx, w.lockTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
		}
	}()
	return h.Handle(ctx, task.Payload)
}
