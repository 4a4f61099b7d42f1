package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/logger"
)

// Controller applies user- and processor-initiated lifecycle transitions.
//
// Every mutation for a user is funneled through that user's mailbox, so a
// reactivation and a late payment webhook never interleave inside one process.
// Across processes the store's version check decides: the loser re-reads and
// retries once, then gives up with ErrTransient. The single Put is the last
// step of every operation, so a failure leaves the stored record untouched.
type Controller struct {
	store      Store
	catalog    *Catalog
	mailboxes  *Serializer
	ledger     EventLedger
	ledgerTTL  time.Duration
	claimLease time.Duration
	observer   Observer
	hooks      []ChangeHook
	now        func() time.Time
	log        *slog.Logger
}

// NewController panics when store is nil. A nil catalog means DefaultCatalog.
func NewController(store Store, catalog *Catalog, opts ...ControllerOption) *Controller {
	if store == nil {
		panic("subscription: store is required")
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	c := &Controller{
		store:      store,
		catalog:    catalog,
		mailboxes:  NewSerializer(16),
		ledger:     NewMemoryLedger(),
		ledgerTTL:  30 * 24 * time.Hour,
		claimLease: 10 * time.Minute,
		observer:   noopObserver{},
		now:        time.Now,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Catalog returns the plan catalog in use.
func (c *Controller) Catalog() *Catalog { return c.catalog }

// Current returns the user's current lineage, or ErrSubscriptionNotFound.
func (c *Controller) Current(ctx context.Context, userID string) (*Record, error) {
	return c.store.Get(ctx, userID)
}

// SubscribeParams records a synchronous checkout confirmation.
type SubscribeParams struct {
	UserID             string
	Plan               Plan
	ExternalPaymentRef string
}

// Subscribe opens a new lineage in incomplete state, or trialing when the plan
// has a trial. An expired lineage or an abandoned checkout is superseded; any
// other current lineage fails with ErrAlreadySubscribed.
func (c *Controller) Subscribe(ctx context.Context, p SubscribeParams) (*Record, error) {
	if !p.Plan.Paid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlan, p.Plan)
	}
	if p.ExternalPaymentRef == "" {
		return nil, fmt.Errorf("%w: missing external payment ref", ErrInvalidRecord)
	}

	rec, _, err := c.mutate(ctx, p.UserID, "subscribe", func(_ context.Context, cur *Record, now time.Time) (*Record, error) {
		if cur != nil {
			switch kind := cur.State().Kind; {
			case kind == StateIncomplete && cur.ExternalPaymentRef == p.ExternalPaymentRef:
				return nil, nil
			case kind != StateExpired && kind != StateIncomplete:
				return nil, ErrAlreadySubscribed
			}
		}

		rec := newRecord(p.UserID, p.Plan, p.ExternalPaymentRef, now)
		if end, ok := c.catalog.TrialEnd(p.Plan, now); ok {
			setTrialing(rec)
			rec.EndDate = &end
		} else {
			rec.Status = StatusIncomplete
		}
		return rec, nil
	})
	return rec, err
}

// Cancel cancels the user's subscription. Immediate cancellation ends access at
// once; otherwise access continues until EndDate. Repeating an end-of-period
// cancel is a no-op that returns the record unchanged.
func (c *Controller) Cancel(ctx context.Context, userID string, immediate bool) (*Record, error) {
	rec, _, err := c.mutate(ctx, userID, "cancel", func(ctx context.Context, cur *Record, now time.Time) (*Record, error) {
		if cur == nil {
			return nil, ErrNoActiveSubscription
		}

		switch cur.State().Kind {
		case StatePendingCancellation:
			if !immediate {
				return nil, nil
			}
		case StateExpired:
			if cur.Status == StatusCanceled {
				return nil, ErrAlreadyCanceled
			}
			return nil, ErrNoActiveSubscription
		case StateIncomplete, StateSuspended:
			return nil, ErrNoActiveSubscription
		}

		ev := OnCancelAtPeriodEnd
		if immediate {
			ev = OnCancelImmediate
		}
		if _, err := next(ctx, cur, ev, now); err != nil {
			if notApplicable(err) {
				return nil, ErrNoActiveSubscription
			}
			return nil, err
		}

		if immediate {
			setCanceledNow(cur)
			return cur, nil
		}

		end, err := c.grantEnd(cur, now)
		if err != nil {
			return nil, err
		}
		setPendingCancellation(cur, end)
		return cur, nil
	})
	return rec, err
}

// Reactivate undoes an end-of-period cancellation while the grant period lasts.
func (c *Controller) Reactivate(ctx context.Context, userID string) (*Record, error) {
	rec, _, err := c.mutate(ctx, userID, "reactivate", func(ctx context.Context, cur *Record, now time.Time) (*Record, error) {
		if cur == nil {
			return nil, ErrNotReactivatable
		}
		if _, err := next(ctx, cur, OnReactivate, now); err != nil {
			if notApplicable(err) {
				return nil, ErrNotReactivatable
			}
			return nil, err
		}
		setActive(cur)
		return cur, nil
	})
	return rec, err
}

// ChangePlan switches a granting subscription to plan. The new billing cycle is
// anchored at now, not at the original start date.
func (c *Controller) ChangePlan(ctx context.Context, userID string, plan Plan) (*Record, error) {
	if !plan.Paid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
	}
	if _, ok := c.catalog.Spec(plan); !ok {
		return nil, fmt.Errorf("%w: %q is not offered", ErrInvalidPlan, plan)
	}

	rec, _, err := c.mutate(ctx, userID, "change_plan", func(ctx context.Context, cur *Record, now time.Time) (*Record, error) {
		if cur == nil {
			return nil, ErrNoActiveSubscription
		}
		if cur.Plan == plan {
			return nil, ErrInvalidPlanTransition
		}
		if _, err := next(ctx, cur, OnChangePlan, now); err != nil {
			if notApplicable(err) {
				return nil, ErrNoActiveSubscription
			}
			return nil, err
		}

		end, err := c.catalog.PeriodEnd(plan, now)
		if err != nil {
			return nil, err
		}
		cur.Plan = plan
		setActive(cur)
		cur.EndDate = &end
		return cur, nil
	})
	return rec, err
}

// Expire flips a pending cancellation whose end date has passed to inactive.
// It reports whether anything changed; records that are not due are left alone.
func (c *Controller) Expire(ctx context.Context, userID string) (bool, error) {
	_, changed, err := c.mutate(ctx, userID, "expire", func(ctx context.Context, cur *Record, now time.Time) (*Record, error) {
		if cur == nil || !cur.State().DueForExpiry(now) {
			return nil, nil
		}
		if _, err := next(ctx, cur, OnExpire, now); err != nil {
			if notApplicable(err) {
				return nil, nil
			}
			return nil, err
		}
		cur.IsActive = false
		return cur, nil
	})
	return changed, err
}

// grantEnd is the date an end-of-period cancellation keeps access until.
func (c *Controller) grantEnd(rec *Record, now time.Time) (time.Time, error) {
	if rec.EndDate != nil {
		return *rec.EndDate, nil
	}
	return c.catalog.PeriodEnd(rec.Plan, now)
}

// mutation receives a private copy of the current record (nil when the user has
// none) and returns the record to store, or nil to leave storage untouched.
type mutation func(ctx context.Context, cur *Record, now time.Time) (*Record, error)

func (c *Controller) mutate(ctx context.Context, userID, cause string, fn mutation) (*Record, bool, error) {
	if userID == "" {
		return nil, false, fmt.Errorf("%w: missing user id", ErrInvalidRecord)
	}

	var (
		result  *Record
		changed bool
	)
	err := c.mailboxes.Do(ctx, userID, func(ctx context.Context) error {
		for attempt := 0; ; attempt++ {
			cur, err := c.current(ctx, userID)
			if err != nil {
				return err
			}

			now := c.now()
			updated, err := fn(ctx, cur.Clone(), now)
			if err != nil {
				return err
			}
			if updated == nil {
				result = cur
				return nil
			}

			var expected int64
			if cur != nil {
				expected = cur.Version
			}
			updated.UpdatedAt = now

			err = c.store.Put(ctx, updated, expected)
			switch {
			case err == nil:
				result, changed = updated, true
				c.committed(ctx, cause, cur, updated)
				return nil
			case errors.Is(err, ErrVersionConflict):
				c.observer.VersionConflict()
				if attempt > 0 {
					return errors.Join(ErrTransient, err)
				}
				c.log.WarnContext(ctx, "subscription changed concurrently, retrying with a fresh read",
					logger.UserID(userID),
					slog.String("cause", cause))
			default:
				return fmt.Errorf("store subscription: %w", err)
			}
		}
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

func (c *Controller) current(ctx context.Context, userID string) (*Record, error) {
	rec, err := c.store.Get(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	return rec, nil
}

func (c *Controller) committed(ctx context.Context, cause string, before, after *Record) {
	var from StateKind
	if before != nil && before.ID == after.ID {
		from = before.State().Kind
	}
	to := after.State().Kind

	c.observer.Transitioned(cause, from, to)
	c.log.InfoContext(ctx, "subscription updated",
		logger.UserID(after.UserID),
		slog.String("cause", cause),
		logger.Transition(from.Name(), to.Name()),
		logger.Plan(string(after.Plan)),
		slog.Int64("version", after.Version))

	for _, h := range c.hooks {
		h(ctx, Change{
			UserID: after.UserID,
			Cause:  cause,
			From:   from,
			To:     to,
			Record: after.Clone(),
		})
	}
}
