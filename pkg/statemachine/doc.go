// Package statemachine provides a small, immutable finite-state transition table.
//
// Unlike a classic state machine object, a Table does not own a "current" state.
// Domain records already persist their state, so the caller loads it, asks the
// table for the next state and persists the result:
//
//	table := statemachine.MustNew(
//		statemachine.On(Draft, Submit, InReview),
//		statemachine.On(InReview, Approve, Approved, hasReviewer),
//	)
//
//	next, err := table.Next(ctx, current, Submit, nil)
//	if statemachine.IsNoTransitionAvailableError(err) {
//		// event does not apply to this state
//	}
//
// Several transitions may be declared for the same from/event pair. They are tried in
// declaration order and the first one whose guards all pass is taken, which allows
// guard-based branching. When every candidate is rejected, Next returns
// ErrTransitionRejected, distinguishable from the "no edge at all" case.
//
// A Table is safe for concurrent use once built.
package statemachine
