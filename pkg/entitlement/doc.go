// Package entitlement decides whether a caller may see premium content.
//
// Evaluate is the pure rule set over a role claim and a subscription record.
// Gate wraps it for content surfaces: it loads the caller's record (memoized
// per request by RequestCache, never across requests), evaluates it, and
// reports lapsed grants through a StaleHook so reconciliation can catch up
// without the read path writing anything.
//
//	gate := entitlement.NewGate(store,
//		entitlement.WithStaleHook(func(ctx context.Context, userID string) {
//			scheduleReconcile(ctx, userID)
//		}),
//	)
//
//	r.Use(entitlement.RequestCache)
//	r.With(gate.Require(entitlement.SurfaceAIAssistant)).Get("/assistant", h)
//
// Surfaces never inspect the role claim themselves: a premium role says
// nothing about a suspended payment or a cancellation that has run out.
package entitlement
