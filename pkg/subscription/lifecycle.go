package subscription

import (
	"context"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/statemachine"
)

// Lifecycle events fed to the transition table.
const (
	OnPaymentSucceeded  = statemachine.StringEvent("payment_succeeded")
	OnPaymentFailed     = statemachine.StringEvent("payment_failed")
	OnCancelImmediate   = statemachine.StringEvent("cancel_immediate")
	OnCancelAtPeriodEnd = statemachine.StringEvent("cancel_end_of_period")
	OnReactivate        = statemachine.StringEvent("reactivate")
	OnExpire            = statemachine.StringEvent("expire")
	OnChangePlan        = statemachine.StringEvent("change_plan")
)

// beforeEndDate passes while a pending cancellation is still inside its grant period.
// data is the evaluation time.
func beforeEndDate(_ context.Context, from statemachine.State, _ statemachine.Event, data any) bool {
	st, ok := from.(State)
	now, isTime := data.(time.Time)
	return ok && isTime && now.Before(st.EndDate)
}

func endDateReached(ctx context.Context, from statemachine.State, ev statemachine.Event, data any) bool {
	_, isTime := data.(time.Time)
	return isTime && !beforeEndDate(ctx, from, ev, data)
}

// lifecycle is the subscription state machine. "any --(plan change while
// active)--> active" is expanded over every state that still grants access.
var lifecycle = statemachine.MustNew(
	statemachine.On(StateIncomplete, OnPaymentSucceeded, StateActive),
	statemachine.On(StateIncomplete, OnPaymentFailed, StateSuspended),
	statemachine.On(StateIncomplete, OnCancelImmediate, StateExpired),

	statemachine.On(StateTrialing, OnPaymentSucceeded, StateActive),
	statemachine.On(StateTrialing, OnPaymentFailed, StateSuspended),
	statemachine.On(StateTrialing, OnCancelImmediate, StateExpired),
	statemachine.On(StateTrialing, OnCancelAtPeriodEnd, StatePendingCancellation),
	statemachine.On(StateTrialing, OnChangePlan, StateActive),

	statemachine.On(StateActive, OnPaymentSucceeded, StateActive),
	statemachine.On(StateActive, OnPaymentFailed, StateSuspended),
	statemachine.On(StateActive, OnCancelImmediate, StateExpired),
	statemachine.On(StateActive, OnCancelAtPeriodEnd, StatePendingCancellation),
	statemachine.On(StateActive, OnChangePlan, StateActive),

	statemachine.On(StatePendingCancellation, OnReactivate, StateActive, beforeEndDate),
	statemachine.On(StatePendingCancellation, OnChangePlan, StateActive, beforeEndDate),
	statemachine.On(StatePendingCancellation, OnExpire, StateExpired, endDateReached),
	statemachine.On(StatePendingCancellation, OnCancelImmediate, StateExpired),

	statemachine.On(StateSuspended, OnPaymentSucceeded, StateActive),
	statemachine.On(StateSuspended, OnPaymentFailed, StateSuspended),
	statemachine.On(StateSuspended, OnCancelImmediate, StateExpired),
)

// next resolves the state rec moves to on ev at now.
func next(ctx context.Context, rec *Record, ev statemachine.Event, now time.Time) (StateKind, error) {
	to, err := lifecycle.Next(ctx, rec.State(), ev, now)
	if err != nil {
		return 0, err
	}
	return to.(StateKind), nil
}

func notApplicable(err error) bool {
	return statemachine.IsNoTransitionAvailableError(err) || statemachine.IsTransitionRejectedError(err)
}

// The setters below write a target state back into the stored field triple.

func setActive(r *Record) {
	r.Status = StatusActive
	r.IsActive = true
	r.CancelationType = ""
}

func setTrialing(r *Record) {
	r.Status = StatusTrialing
	r.IsActive = true
	r.CancelationType = ""
}

func setSuspended(r *Record) {
	r.Status = StatusSuspended
	r.IsActive = false
	r.CancelationType = ""
}

func setPendingCancellation(r *Record, end time.Time) {
	r.Status = StatusCanceled
	r.CancelationType = CancelEndOfPeriod
	r.IsActive = true
	r.EndDate = &end
}

// setCanceledNow revokes the grant. EndDate keeps the paid-through date for
// the record's history.
func setCanceledNow(r *Record) {
	r.Status = StatusCanceled
	r.CancelationType = CancelImmediate
	r.IsActive = false
}
