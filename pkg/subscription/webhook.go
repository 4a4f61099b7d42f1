package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/logger"
)

// ApplyWebhookEvent applies a verified processor event once per idempotency
// key. Unknown event types, replays, events for subscriptions this engine does
// not know and events the lifecycle rejects are acknowledged with a nil error
// so the processor stops retrying. Errors are returned only when the event is
// malformed or when applying it failed and a retry may succeed; in the latter
// case the delivery claim is released.
//
// The ledger entry becomes final only after the record write. A claim left
// pending by a delivery that died mid-way does not block redelivery: the event
// is applied again and the record's last event guard drops exact replays.
func (c *Controller) ApplyWebhookEvent(ctx context.Context, ev Event) (*Record, error) {
	log := c.log.With(
		logger.EventType(string(ev.Type)),
		logger.EventID(ev.ID),
		logger.ExternalRef(ev.ExternalPaymentRef),
	)

	if !ev.Type.Known() {
		log.InfoContext(ctx, "ignoring unrecognized webhook event", slog.String("provider_type", ev.ProviderType))
		c.observer.WebhookProcessed(EventUnknown, OutcomeIgnored)
		return nil, nil
	}
	if err := ev.Validate(); err != nil {
		c.observer.WebhookProcessed(ev.Type, OutcomeFailed)
		return nil, err
	}

	key := ev.IdempotencyKey()
	state, err := c.ledger.Claim(ctx, key, c.claimLease)
	if err != nil {
		c.observer.WebhookProcessed(ev.Type, OutcomeFailed)
		return nil, fmt.Errorf("claim webhook event: %w", err)
	}
	switch state {
	case ClaimCommitted:
		log.DebugContext(ctx, "webhook event already processed")
		c.observer.WebhookProcessed(ev.Type, OutcomeDuplicate)
		return nil, nil
	case ClaimPending:
		log.InfoContext(ctx, "webhook event has an unfinished claim, applying again")
	}

	rec, outcome, err := c.applyEvent(ctx, log, ev)
	if err != nil {
		if rerr := c.ledger.Release(context.WithoutCancel(ctx), key); rerr != nil {
			log.ErrorContext(ctx, "failed to release webhook event claim", logger.Error(rerr))
		}
		c.observer.WebhookProcessed(ev.Type, OutcomeFailed)
		return nil, err
	}
	if cerr := c.ledger.Commit(context.WithoutCancel(ctx), key, c.ledgerTTL); cerr != nil {
		log.ErrorContext(ctx, "failed to commit webhook event claim", logger.Error(cerr))
	}

	c.observer.WebhookProcessed(ev.Type, outcome)
	return rec, nil
}

func (c *Controller) applyEvent(ctx context.Context, log *slog.Logger, ev Event) (*Record, string, error) {
	userID := ev.UserID
	owner, err := c.store.FindByExternalRef(ctx, ev.ExternalPaymentRef)
	switch {
	case err == nil:
		userID = owner.UserID
	case errors.Is(err, ErrSubscriptionNotFound):
	default:
		return nil, "", fmt.Errorf("find subscription by external ref: %w", err)
	}
	if userID == "" {
		log.WarnContext(ctx, "webhook event for unknown subscription")
		return nil, OutcomeIgnored, nil
	}

	var outcome string
	rec, _, err := c.mutate(ctx, userID, "webhook_"+string(ev.Type), func(ctx context.Context, cur *Record, now time.Time) (*Record, error) {
		outcome = OutcomeApplied
		if cur != nil && cur.alreadyApplied(ev) {
			outcome = OutcomeDuplicate
			return nil, nil
		}

		updated, err := c.transition(ctx, userID, cur, ev, now)
		if err != nil {
			return nil, err
		}
		if updated == nil {
			outcome = OutcomeIgnored
			return nil, nil
		}
		updated.markApplied(ev)
		return updated, nil
	})
	if errors.Is(err, ErrAlreadySubscribed) {
		log.WarnContext(ctx, "webhook event conflicts with another live subscription", logger.UserID(userID))
		return nil, OutcomeIgnored, nil
	}
	if err != nil {
		return nil, "", err
	}
	if outcome == OutcomeIgnored {
		log.InfoContext(ctx, "webhook event does not apply to current state",
			logger.UserID(userID),
			logger.State(rec.stateName()))
	}
	return rec, outcome, nil
}

// transition maps ev onto cur. It returns nil when the event does not change anything.
func (c *Controller) transition(ctx context.Context, userID string, cur *Record, ev Event, now time.Time) (*Record, error) {
	if ev.Type == EventCreated {
		return c.onCreated(userID, cur, ev, now)
	}

	// Events for an older lineage or another checkout are stale.
	if cur == nil || cur.ExternalPaymentRef != ev.ExternalPaymentRef {
		return nil, nil
	}

	switch ev.Type {
	case EventRenewed, EventPaymentSucceeded:
		if _, err := next(ctx, cur, OnPaymentSucceeded, now); err != nil {
			return ignore(err)
		}
		end, err := c.paidThrough(cur, ev, now)
		if err != nil {
			return nil, err
		}
		setActive(cur)
		cur.EndDate = &end
		return cur, nil

	case EventPaymentFailed:
		if _, err := next(ctx, cur, OnPaymentFailed, now); err != nil {
			return ignore(err)
		}
		setSuspended(cur)
		return cur, nil

	case EventCanceled:
		if ev.Immediate || (ev.PeriodEnd != nil && !now.Before(*ev.PeriodEnd)) {
			if _, err := next(ctx, cur, OnCancelImmediate, now); err != nil {
				return ignore(err)
			}
			setCanceledNow(cur)
			return cur, nil
		}

		st := cur.State()
		if st.Kind == StatePendingCancellation {
			if ev.PeriodEnd == nil || ev.PeriodEnd.Equal(st.EndDate) {
				return nil, nil
			}
			setPendingCancellation(cur, *ev.PeriodEnd)
			return cur, nil
		}
		if _, err := next(ctx, cur, OnCancelAtPeriodEnd, now); err != nil {
			return ignore(err)
		}
		end := ev.PeriodEnd
		if end == nil {
			e, err := c.grantEnd(cur, now)
			if err != nil {
				return nil, err
			}
			end = &e
		}
		setPendingCancellation(cur, *end)
		return cur, nil

	case EventUpdated:
		plan := ev.Plan
		if plan == "" {
			plan = cur.Plan
		}
		if plan == cur.Plan && ev.PeriodEnd == nil {
			return nil, nil
		}
		if _, err := next(ctx, cur, OnChangePlan, now); err != nil {
			return ignore(err)
		}
		end := ev.PeriodEnd
		if end == nil {
			e, err := c.catalog.PeriodEnd(plan, now)
			if err != nil {
				return nil, err
			}
			end = &e
		}
		trialing := ev.Trialing && cur.State().Kind == StateTrialing
		cur.Plan = plan
		if trialing {
			setTrialing(cur)
		} else {
			setActive(cur)
		}
		cur.EndDate = end
		return cur, nil
	}

	return nil, nil
}

// onCreated confirms a pending checkout or opens a new lineage.
func (c *Controller) onCreated(userID string, cur *Record, ev Event, now time.Time) (*Record, error) {
	if cur != nil && cur.ExternalPaymentRef == ev.ExternalPaymentRef {
		if cur.State().Kind != StateIncomplete {
			return nil, nil
		}
		if ev.Plan != "" {
			cur.Plan = ev.Plan
		}
		return c.startGrant(cur, ev, now)
	}

	if cur != nil {
		if kind := cur.State().Kind; kind != StateExpired && kind != StateIncomplete {
			return nil, ErrAlreadySubscribed
		}
	}
	if ev.Plan == "" {
		return nil, fmt.Errorf("%w: created event without plan", ErrInvalidEvent)
	}
	if _, ok := c.catalog.Spec(ev.Plan); !ok {
		return nil, fmt.Errorf("%w: plan %q is not offered", ErrInvalidEvent, ev.Plan)
	}

	return c.startGrant(newRecord(userID, ev.Plan, ev.ExternalPaymentRef, now), ev, now)
}

func (c *Controller) startGrant(rec *Record, ev Event, now time.Time) (*Record, error) {
	if ev.Trialing {
		end, ok := c.catalog.TrialEnd(rec.Plan, now)
		if ev.PeriodEnd != nil && !ev.PeriodEnd.Before(rec.StartDate) {
			end, ok = *ev.PeriodEnd, true
		}
		if !ok {
			var err error
			if end, err = c.catalog.PeriodEnd(rec.Plan, now); err != nil {
				return nil, err
			}
		}
		setTrialing(rec)
		rec.EndDate = &end
		return rec, nil
	}

	end, err := c.paidThrough(rec, ev, now)
	if err != nil {
		return nil, err
	}
	setActive(rec)
	rec.EndDate = &end
	return rec, nil
}

// paidThrough is the end of the period a successful payment covers: the
// processor's period end when present, otherwise one billing cycle from the
// later of now and the current end date.
func (c *Controller) paidThrough(rec *Record, ev Event, now time.Time) (time.Time, error) {
	if ev.PeriodEnd != nil && !ev.PeriodEnd.Before(rec.StartDate) {
		return *ev.PeriodEnd, nil
	}
	from := now
	if rec.EndDate != nil && rec.EndDate.After(from) {
		from = *rec.EndDate
	}
	return c.catalog.PeriodEnd(rec.Plan, from)
}

func ignore(err error) (*Record, error) {
	if notApplicable(err) {
		return nil, nil
	}
	return nil, err
}

func (r *Record) stateName() string {
	if r == nil {
		return StateKind(0).Name()
	}
	return r.State().Name()
}
