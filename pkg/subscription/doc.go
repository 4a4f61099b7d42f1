// Package subscription implements the subscription lifecycle of the
// entitlement engine: records, the state machine that moves them, the
// controller that applies user and payment processor actions, and the
// reconciler that expires lapsed grants.
//
// # State
//
// A Record stores the processor-facing triple status, is_active and
// cancelation_type. Code never reasons about that triple directly; it asks the
// record for its State, a tagged variant:
//
//	incomplete            checkout started, not paid
//	trialing              in a free trial
//	active                paid and current
//	pending_cancellation  canceled at period end, still granting until EndDate
//	suspended             renewal payment failed
//	expired               terminal; a new checkout starts a new lineage
//
// # Writes
//
// Controller is the only writer. All operations for one user run through that
// user's mailbox (Serializer) and finish with a single versioned Store.Put, so
// a failed operation leaves the stored record as it was:
//
//	ctrl := subscription.NewController(store, catalog,
//		subscription.WithLogger(log),
//		subscription.WithLedger(subscription.NewRedisLedger(rdb, ""), 30*24*time.Hour),
//	)
//
//	rec, err := ctrl.Cancel(ctx, userID, false)
//	if errors.Is(err, subscription.ErrNoActiveSubscription) {
//		// nothing to cancel
//	}
//
// A version conflict is retried once with a fresh read; a second conflict
// returns an error wrapping ErrTransient.
//
// # Webhooks
//
// PaddleProvider verifies and normalizes Paddle Billing notifications into
// Events. Controller.ApplyWebhookEvent is idempotent on the event's
// external payment reference and id, ignores events older than the last one
// applied, and acknowledges unknown event types.
//
// # Reconciliation
//
// Reconciler.Sweep expires pending cancellations past their end date.
// Reconciler.ReconcileUser does the same for a single user and is scheduled by
// the read path when it notices a lapsed grant.
package subscription
