package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/logger"
)

// Reconciler expires end-of-period cancellations whose grant period has
// elapsed without a terminating processor event.
type Reconciler struct {
	store     Store
	ctrl      *Controller
	batchSize int
	log       *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithBatchSize sets how many due records a sweep loads at once.
func WithBatchSize(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// NewReconciler writes through ctrl so expiry takes the same per-user
// serialization and version checks as every other mutation.
func NewReconciler(store Store, ctrl *Controller, opts ...ReconcilerOption) *Reconciler {
	if store == nil || ctrl == nil {
		panic("subscription: reconciler requires a store and a controller")
	}
	r := &Reconciler{
		store:     store,
		ctrl:      ctrl,
		batchSize: 100,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Due lists records whose grant period has elapsed, without changing them.
func (r *Reconciler) Due(ctx context.Context) ([]*Record, error) {
	return r.store.ListDueForExpiry(ctx, r.ctrl.now(), 0)
}

// Sweep expires every due record and returns how many were flipped. Records
// that fail are logged and skipped; the joined errors are returned after the
// sweep finishes.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	var (
		expired int
		errs    []error
		failed  = make(map[string]struct{})
	)

	for {
		if err := ctx.Err(); err != nil {
			return expired, err
		}

		batch, err := r.store.ListDueForExpiry(ctx, r.ctrl.now(), r.batchSize+len(failed))
		if err != nil {
			return expired, fmt.Errorf("list subscriptions due for expiry: %w", err)
		}

		progressed := false
		for _, rec := range batch {
			if _, skip := failed[rec.UserID]; skip {
				continue
			}
			changed, err := r.ctrl.Expire(ctx, rec.UserID)
			if err != nil {
				failed[rec.UserID] = struct{}{}
				errs = append(errs, fmt.Errorf("expire subscription of %s: %w", rec.UserID, err))
				r.log.ErrorContext(ctx, "failed to expire subscription",
					logger.UserID(rec.UserID),
					logger.Error(err))
				continue
			}
			if changed {
				expired++
				progressed = true
			}
		}

		if !progressed || len(batch) < r.batchSize+len(failed) {
			break
		}
	}

	if expired > 0 {
		r.ctrl.observer.Expired(expired)
	}
	r.log.InfoContext(ctx, "reconciliation sweep finished",
		slog.Int("expired", expired),
		slog.Int("failed", len(failed)),
		logger.Duration(time.Since(start)))

	return expired, errors.Join(errs...)
}

// ReconcileUser expires one user's record if it is due. It is what the lazy
// read path schedules when it sees a stale grant.
func (r *Reconciler) ReconcileUser(ctx context.Context, userID string) (bool, error) {
	changed, err := r.ctrl.Expire(ctx, userID)
	if err != nil {
		return false, err
	}
	if changed {
		r.ctrl.observer.Expired(1)
		r.log.InfoContext(ctx, "expired subscription on read", logger.UserID(userID))
	}
	return changed, nil
}
