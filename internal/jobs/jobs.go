// Package jobs defines the queue tasks of the service and their handlers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/queue"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

// Periodic task names.
const (
	ReconcileSweepTask = "reconcile_expired"
	PurgeTasksTask     = "purge_completed_tasks"
)

// ProcessWebhookEvent applies a verified processor event.
type ProcessWebhookEvent struct {
	Event subscription.Event `json:"event"`
}

func (ProcessWebhookEvent) TaskName() string { return "process_webhook_event" }

// ReconcileUser expires one user's lapsed pending cancellation.
type ReconcileUser struct {
	UserID string `json:"user_id"`
}

func (ReconcileUser) TaskName() string { return "reconcile_user" }

// Enqueuer is the part of queue.Enqueuer jobs need.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) error
}

// Handlers returns the queue handlers for every task in this package.
func Handlers(ctrl *subscription.Controller, rec *subscription.Reconciler) []queue.Handler {
	return []queue.Handler{
		queue.NewTaskHandler(func(ctx context.Context, p ProcessWebhookEvent) error {
			_, err := ctrl.ApplyWebhookEvent(ctx, p.Event)
			if errors.Is(err, subscription.ErrInvalidEvent) {
				return queue.Permanent(err)
			}
			return err
		}),
		queue.NewTaskHandler(func(ctx context.Context, p ReconcileUser) error {
			if p.UserID == "" {
				return queue.Permanent(errors.New("reconcile task without user id"))
			}
			_, err := rec.ReconcileUser(ctx, p.UserID)
			return err
		}),
		queue.NewPeriodicTaskHandler(ReconcileSweepTask, func(ctx context.Context) error {
			_, err := rec.Sweep(ctx)
			return err
		}),
	}
}

// TaskPurger deletes finished queue tasks.
type TaskPurger interface {
	DeleteCompleted(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeHandler drops completed tasks older than retention.
func PurgeHandler(p TaskPurger, retention time.Duration, log *slog.Logger) queue.Handler {
	if log == nil {
		log = slog.Default()
	}
	return queue.NewPeriodicTaskHandler(PurgeTasksTask, func(ctx context.Context) error {
		n, err := p.DeleteCompleted(ctx, time.Now().Add(-retention))
		if err != nil {
			return err
		}
		if n > 0 {
			log.InfoContext(ctx, "purged completed tasks", slog.Int64("count", n))
		}
		return nil
	})
}

// EnqueueWebhookEvent durably queues ev for processing.
func EnqueueWebhookEvent(ctx context.Context, enq Enqueuer, ev subscription.Event) error {
	if err := enq.Enqueue(ctx, ProcessWebhookEvent{Event: ev},
		queue.WithPriority(queue.PriorityHigh),
		queue.WithMaxRetries(5),
	); err != nil {
		return fmt.Errorf("enqueue webhook event %s: %w", ev.ID, err)
	}
	return nil
}

// StaleHook schedules a per-user reconcile when the gate sees a lapsed grant.
// Enqueue failures are logged; the next stale read tries again.
func StaleHook(enq Enqueuer, log *slog.Logger) entitlement.StaleHook {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, userID string) {
		err := enq.Enqueue(context.WithoutCancel(ctx), ReconcileUser{UserID: userID},
			queue.WithPriority(queue.PriorityHigh),
			queue.WithMaxRetries(2),
		)
		if err != nil {
			log.WarnContext(ctx, "failed to schedule lazy reconciliation",
				logger.UserID(userID),
				logger.Error(err))
		}
	}
}
