package subscription_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

func TestController_Subscribe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("creates incomplete record", func(t *testing.T) {
		t.Parallel()
		clock := newClock(date(2025, 5, 1))
		store := subscription.NewMemoryStore()
		ctrl := newTestController(store, clock)

		rec, err := ctrl.Subscribe(ctx, subscription.SubscribeParams{UserID: "u1", Plan: subscription.PlanMonthly, ExternalPaymentRef: "sub_1"})
		require.NoError(t, err)
		assert.Equal(t, subscription.StateIncomplete, rec.State().Kind)
		assert.False(t, rec.IsActive)
		assert.Equal(t, int64(1), rec.Version)

		again, err := ctrl.Subscribe(ctx, subscription.SubscribeParams{UserID: "u1", Plan: subscription.PlanMonthly, ExternalPaymentRef: "sub_1"})
		require.NoError(t, err)
		assert.Equal(t, rec.ID, again.ID)
		assert.Equal(t, int64(1), again.Version)
	})

	t.Run("abandoned checkout is superseded", func(t *testing.T) {
		t.Parallel()
		clock := newClock(date(2025, 5, 1))
		store := subscription.NewMemoryStore()
		ctrl := newTestController(store, clock)

		first, err := ctrl.Subscribe(ctx, subscription.SubscribeParams{UserID: "u1", Plan: subscription.PlanMonthly, ExternalPaymentRef: "sub_1"})
		require.NoError(t, err)
		second, err := ctrl.Subscribe(ctx, subscription.SubscribeParams{UserID: "u1", Plan: subscription.PlanAnnual, ExternalPaymentRef: "sub_2"})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)

		history, err := store.History(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, second.ID, history[0].ID)
		assert.NotNil(t, history[1].SupersededAt)
	})

	t.Run("trial plan starts trialing", func(t *testing.T) {
		t.Parallel()
		catalog, err := subscription.NewCatalog(subscription.PlanSpec{ID: subscription.PlanMonthly, Interval: subscription.IntervalMonthly, TrialDays: 7})
		require.NoError(t, err)
		clock := newClock(date(2025, 5, 1))
		ctrl := subscription.NewController(subscription.NewMemoryStore(), catalog, subscription.WithClock(clock.Now))

		rec, err := ctrl.Subscribe(ctx, subscription.SubscribeParams{UserID: "u1", Plan: subscription.PlanMonthly, ExternalPaymentRef: "sub_1"})
		require.NoError(t, err)
		assert.Equal(t, subscription.StateTrialing, rec.State().Kind)
		require.NotNil(t, rec.EndDate)
		assert.Equal(t, date(2025, 5, 8), *rec.EndDate)
	})

	t.Run("rejects live subscription and free plan", func(t *testing.T) {
		t.Parallel()
		clock := newClock(date(2025, 5, 1))
		store := subscription.NewMemoryStore()
		ctrl := newTestController(store, clock)
		seedActive(t, store, "u1", subscription.PlanMonthly, date(2025, 4, 1), date(2025, 6, 1))

		_, err := ctrl.Subscribe(ctx, subscription.SubscribeParams{UserID: "u1", Plan: subscription.PlanAnnual, ExternalPaymentRef: "sub_2"})
		assert.ErrorIs(t, err, subscription.ErrAlreadySubscribed)

		_, err = ctrl.Subscribe(ctx, subscription.SubscribeParams{UserID: "u2", Plan: subscription.PlanFree, ExternalPaymentRef: "sub_3"})
		assert.ErrorIs(t, err, subscription.ErrInvalidPlan)
	})
}

func TestController_Cancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("no record", func(t *testing.T) {
		t.Parallel()
		ctrl := newTestController(subscription.NewMemoryStore(), newClock(date(2025, 5, 1)))
		_, err := ctrl.Cancel(ctx, "nobody", true)
		assert.ErrorIs(t, err, subscription.ErrNoActiveSubscription)
	})

	t.Run("immediate revokes access in the same write", func(t *testing.T) {
		t.Parallel()
		clock := newClock(date(2025, 5, 10))
		store := subscription.NewMemoryStore()
		ctrl := newTestController(store, clock)
		seedActive(t, store, "u1", subscription.PlanMonthly, date(2025, 5, 1), date(2025, 6, 1))

		rec, err := ctrl.Cancel(ctx, "u1", true)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCanceled, rec.Status)
		assert.Equal(t, subscription.CancelImmediate, rec.CancelationType)
		assert.False(t, rec.IsActive)
		assert.Equal(t, subscription.StateExpired, rec.State().Kind)
		assert.Equal(t, date(2025, 6, 1), *rec.EndDate, "paid-through date is kept")

		_, err = ctrl.Cancel(ctx, "u1", true)
		assert.ErrorIs(t, err, subscription.ErrAlreadyCanceled)
	})

	t.Run("end of period keeps access and end date", func(t *testing.T) {
		t.Parallel()
		clock := newClock(date(2025, 5, 10))
		store := subscription.NewMemoryStore()
		ctrl := newTestController(store, clock)
		seedActive(t, store, "u1", subscription.PlanMonthly, date(2025, 5, 1), date(2025, 6, 1))

		rec, err := ctrl.Cancel(ctx, "u1", false)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCanceled, rec.Status)
		assert.Equal(t, subscription.CancelEndOfPeriod, rec.CancelationType)
		assert.True(t, rec.IsActive)
		assert.Equal(t, date(2025, 6, 1), *rec.EndDate)
		assert.Equal(t, subscription.StatePendingCancellation, rec.State().Kind)

		again, err := ctrl.Cancel(ctx, "u1", false)
		require.NoError(t, err)
		assert.Equal(t, rec.Version, again.Version)
	})

	t.Run("suspended subscription cannot be canceled", func(t *testing.T) {
		t.Parallel()
		clock := newClock(date(2025, 5, 10))
		store := subscription.NewMemoryStore()
		ctrl := newTestController(store, clock)
		rec := seedActive(t, store, "u1", subscription.PlanMonthly, date(2025, 5, 1), date(2025, 6, 1))
		rec.Status = subscription.StatusSuspended
		rec.IsActive = false
		require.NoError(t, store.Put(ctx, rec, rec.Version))

		_, err := ctrl.Cancel(ctx, "u1", false)
		assert.ErrorIs(t, err, subscription.ErrNoActiveSubscription)
	})
}

func TestController_Reactivate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("before end date restores access", func(t *testing.T) {
		t.Parallel()
		clock := newClock(date(2025, 5, 10))
		store := subscription.NewMemoryStore()
		ctrl := newTestController(store, clock)
		seedActive(t, store, "u1", subscription.PlanMonthly, date(2025, 5, 1), date(2025, 6, 1))

		_, err := ctrl.Cancel(ctx, "u1", false)
		require.NoError(t, err)

		clock.Set(date(2025, 5, 20))
		rec, err := ctrl.Reactivate(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, rec.Status)
		assert.Empty(t, rec.CancelationType)
		assert.True(t, rec.IsActive)
		assert.Equal(t, date(2025, 6, 1), *rec.EndDate)
	})

	t.Run("after end date must re-subscribe", func(t *testing.T) {
		t.Parallel()
		clock := newClock(date(2025, 5, 10))
		store := subscription.NewMemoryStore()
		ctrl := newTestController(store, clock)
		seedActive(t, store, "u1", subscription.PlanMonthly, date(2025, 5, 1), date(2025, 6, 1))

		_, err := ctrl.Cancel(ctx, "u1", false)
		require.NoError(t, err)

		clock.Set(date(2025, 6, 1))
		_, err = ctrl.Reactivate(ctx, "u1")
		assert.ErrorIs(t, err, subscription.ErrNotReactivatable)
	})

	t.Run("not canceled", func(t *testing.T) {
		t.Parallel()
		clock := newClock(date(2025, 5, 10))
		store := subscription.NewMemoryStore()
		ctrl := newTestController(store, clock)
		seedActive(t, store, "u1", subscription.PlanMonthly, date(2025, 5, 1), date(2025, 6, 1))

		_, err := ctrl.Reactivate(ctx, "u1")
		assert.ErrorIs(t, err, subscription.ErrNotReactivatable)

		_, err = ctrl.Reactivate(ctx, "nobody")
		assert.ErrorIs(t, err, subscription.ErrNotReactivatable)
	})
}

func TestController_ChangePlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("monthly to annual re-anchors the cycle at now", func(t *testing.T) {
		t.Parallel()
		now := date(2025, 5, 10)
		clock := newClock(now)
		store := subscription.NewMemoryStore()
		ctrl := newTestController(store, clock)
		seedActive(t, store, "u1", subscription.PlanMonthly, date(2025, 5, 1), date(2025, 6, 1))

		rec, err := ctrl.ChangePlan(ctx, "u1", subscription.PlanAnnual)
		require.NoError(t, err)
		assert.Equal(t, subscription.PlanAnnual, rec.Plan)
		assert.True(t, rec.IsActive)
		assert.Equal(t, subscription.StatusActive, rec.Status)
		assert.Equal(t, date(2026, 5, 10), *rec.EndDate)
		assert.True(t, rec.EndDate.After(now))
	})

	t.Run("pending cancellation becomes active again", func(t *testing.T) {
		t.Parallel()
		clock := newClock(date(2025, 5, 10))
		store := subscription.NewMemoryStore()
		ctrl := newTestController(store, clock)
		seedActive(t, store, "u1", subscription.PlanMonthly, date(2025, 5, 1), date(2025, 6, 1))
		_, err := ctrl.Cancel(ctx, "u1", false)
		require.NoError(t, err)

		rec, err := ctrl.ChangePlan(ctx, "u1", subscription.PlanAnnual)
		require.NoError(t, err)
		assert.Equal(t, subscription.StateActive, rec.State().Kind)
		assert.Empty(t, rec.CancelationType)
	})

	t.Run("rejections", func(t *testing.T) {
		t.Parallel()
		clock := newClock(date(2025, 5, 10))
		store := subscription.NewMemoryStore()
		ctrl := newTestController(store, clock)
		seedActive(t, store, "u1", subscription.PlanMonthly, date(2025, 5, 1), date(2025, 6, 1))

		_, err := ctrl.ChangePlan(ctx, "u1", subscription.PlanMonthly)
		assert.ErrorIs(t, err, subscription.ErrInvalidPlanTransition)

		_, err = ctrl.ChangePlan(ctx, "u1", subscription.PlanFree)
		assert.ErrorIs(t, err, subscription.ErrInvalidPlan)

		_, err = ctrl.ChangePlan(ctx, "nobody", subscription.PlanAnnual)
		assert.ErrorIs(t, err, subscription.ErrNoActiveSubscription)

		_, err = ctrl.Cancel(ctx, "u1", true)
		require.NoError(t, err)
		_, err = ctrl.ChangePlan(ctx, "u1", subscription.PlanAnnual)
		assert.ErrorIs(t, err, subscription.ErrNoActiveSubscription)
	})
}

func TestController_VersionConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("retried once with a fresh read", func(t *testing.T) {
		t.Parallel()
		store := &flakyStore{MemoryStore: subscription.NewMemoryStore()}
		seedActive(t, store, "u1", subscription.PlanMonthly, date(2025, 5, 1), date(2025, 6, 1))
		store.failNext(subscription.ErrVersionConflict)

		obs := &mockObserver{}
		obs.On("VersionConflict").Once()
		obs.On("Transitioned", "cancel", subscription.StateActive, subscription.StatePendingCancellation).Once()

		ctrl := newTestController(store, newClock(date(2025, 5, 10)), subscription.WithObserver(obs))
		rec, err := ctrl.Cancel(ctx, "u1", false)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatePendingCancellation, rec.State().Kind)
		obs.AssertExpectations(t)
	})

	t.Run("second conflict is transient and leaves the record untouched", func(t *testing.T) {
		t.Parallel()
		store := &flakyStore{MemoryStore: subscription.NewMemoryStore()}
		before := seedActive(t, store, "u1", subscription.PlanMonthly, date(2025, 5, 1), date(2025, 6, 1))
		store.failNext(subscription.ErrVersionConflict, subscription.ErrVersionConflict)

		obs := &mockObserver{}
		obs.On("VersionConflict").Twice()

		ctrl := newTestController(store, newClock(date(2025, 5, 10)), subscription.WithObserver(obs))
		_, err := ctrl.Cancel(ctx, "u1", true)
		require.Error(t, err)
		assert.ErrorIs(t, err, subscription.ErrTransient)
		assert.ErrorIs(t, err, subscription.ErrVersionConflict)

		after, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, before.Version, after.Version)
		assert.Equal(t, subscription.StateActive, after.State().Kind)
		obs.AssertExpectations(t)
		obs.AssertNotCalled(t, "Transitioned", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("store failure is not retried", func(t *testing.T) {
		t.Parallel()
		store := &flakyStore{MemoryStore: subscription.NewMemoryStore()}
		seedActive(t, store, "u1", subscription.PlanMonthly, date(2025, 5, 1), date(2025, 6, 1))
		boom := errors.New("connection reset")
		store.failNext(boom)
		puts := store.puts

		ctrl := newTestController(store, newClock(date(2025, 5, 10)))
		_, err := ctrl.Reactivate(ctx, "u1")
		assert.ErrorIs(t, err, subscription.ErrNotReactivatable)

		_, err = ctrl.Cancel(ctx, "u1", false)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, puts+1, store.puts)
	})
}

func TestController_ConcurrentMutationsAreSerialized(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newClock(date(2025, 5, 10))
	store := subscription.NewMemoryStore()
	ctrl := newTestController(store, clock)
	seedActive(t, store, "u1", subscription.PlanMonthly, date(2025, 5, 1), date(2025, 6, 1))

	const n = 20
	errs := make(chan error, n)
	for i := range n {
		go func() {
			var err error
			if i%2 == 0 {
				_, err = ctrl.Cancel(ctx, "u1", false)
			} else {
				_, err = ctrl.Reactivate(ctx, "u1")
			}
			if errors.Is(err, subscription.ErrNotReactivatable) {
				err = nil
			}
			errs <- err
		}()
	}
	for range n {
		assert.NoError(t, <-errs)
	}

	rec, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, rec.Validate())
	assert.Contains(t, []subscription.StateKind{subscription.StateActive, subscription.StatePendingCancellation}, rec.State().Kind)
}

func TestController_ChangeHook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := subscription.NewMemoryStore()
	seedActive(t, store, "u1", subscription.PlanMonthly, date(2025, 5, 1), date(2025, 6, 1))

	var changes []subscription.Change
	ctrl := newTestController(store, newClock(date(2025, 5, 10)),
		subscription.WithChangeHook(func(_ context.Context, ch subscription.Change) {
			changes = append(changes, ch)
		}))

	_, err := ctrl.Cancel(ctx, "u1", false)
	require.NoError(t, err)
	_, err = ctrl.Cancel(ctx, "u1", false)
	require.NoError(t, err)

	require.Len(t, changes, 1)
	assert.Equal(t, "cancel", changes[0].Cause)
	assert.Equal(t, subscription.StateActive, changes[0].From)
	assert.Equal(t, subscription.StatePendingCancellation, changes[0].To)
	assert.Equal(t, "u1", changes[0].Record.UserID)
}

func TestLifecycleScenario_CancelAtPeriodEndThenReconcile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newClock(date(2025, 5, 1))
	store := subscription.NewMemoryStore()
	ctrl := newTestController(store, clock)
	reconciler := subscription.NewReconciler(store, ctrl)

	_, err := ctrl.Subscribe(ctx, subscription.SubscribeParams{UserID: "u1", Plan: subscription.PlanMonthly, ExternalPaymentRef: "sub_1"})
	require.NoError(t, err)

	end := date(2025, 6, 1)
	rec, err := ctrl.ApplyWebhookEvent(ctx, subscription.Event{
		ID:                 "evt_1",
		Type:               subscription.EventCreated,
		ExternalPaymentRef: "sub_1",
		PeriodEnd:          &end,
		OccurredAt:         date(2025, 5, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, subscription.StateActive, rec.State().Kind)

	clock.Set(date(2025, 5, 10))
	rec, err = ctrl.Cancel(ctx, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, rec.Status)
	assert.Equal(t, subscription.CancelEndOfPeriod, rec.CancelationType)
	assert.True(t, rec.IsActive)
	assert.Equal(t, end, *rec.EndDate)
	assert.True(t, rec.State().Granting(clock.Now()))

	clock.Set(date(2025, 6, 2))
	due, err := reconciler.Due(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)

	n, err := reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err = store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, rec.IsActive)
	assert.Equal(t, subscription.StateExpired, rec.State().Kind)

	n, err = reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	changed, err := reconciler.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, changed)

	// A new checkout after expiry opens a fresh lineage.
	fresh, err := ctrl.Subscribe(ctx, subscription.SubscribeParams{UserID: "u1", Plan: subscription.PlanAnnual, ExternalPaymentRef: "sub_2"})
	require.NoError(t, err)
	assert.NotEqual(t, rec.ID, fresh.ID)
}

func TestReconciler_SweepBatches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newClock(date(2025, 5, 10))
	store := subscription.NewMemoryStore()
	ctrl := newTestController(store, clock)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		seedActive(t, store, id, subscription.PlanMonthly, date(2025, 5, 1), date(2025, 6, 1))
		_, err := ctrl.Cancel(ctx, id, false)
		require.NoError(t, err)
	}
	seedActive(t, store, "f", subscription.PlanMonthly, date(2025, 5, 1), date(2025, 7, 1))

	clock.Set(date(2025, 6, 1).Add(time.Hour))
	n, err := subscription.NewReconciler(store, ctrl, subscription.WithBatchSize(2)).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	rec, err := store.Get(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, subscription.StateActive, rec.State().Kind)
}
