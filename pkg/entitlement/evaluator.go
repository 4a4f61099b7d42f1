package entitlement

import (
	"time"

	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

// Reason explains an entitlement decision.
type Reason string

const (
	ReasonAdminOverride             Reason = "ADMIN_OVERRIDE"
	ReasonNoSubscription            Reason = "NO_SUBSCRIPTION"
	ReasonPaymentSuspended          Reason = "PAYMENT_SUSPENDED"
	ReasonActive                    Reason = "ACTIVE"
	ReasonActivePendingCancellation Reason = "ACTIVE_PENDING_CANCELLATION"
	ReasonExpired                   Reason = "EXPIRED"
	ReasonAdminRequired             Reason = "ADMIN_REQUIRED"
)

// Decision is the result of evaluating entitlement.
// ReconcileDue is set when the stored record still claims access that has
// already lapsed; the decision itself already reflects the lapse.
type Decision struct {
	CanAccessPremium bool   `json:"can_access_premium"`
	Reason           Reason `json:"reason"`
	ReconcileDue     bool   `json:"-"`
}

// Evaluate decides premium access. It is pure: it performs no I/O, never
// mutates rec and never panics. Rules, first match wins:
//
//  1. admin role grants access
//  2. no record (or a malformed one) denies with NO_SUBSCRIPTION
//  3. suspended denies with PAYMENT_SUSPENDED
//  4. an active grant allows with ACTIVE or ACTIVE_PENDING_CANCELLATION
//  5. anything else denies with EXPIRED
func Evaluate(role Role, rec *subscription.Record, now time.Time) Decision {
	if role == RoleAdmin {
		return Decision{CanAccessPremium: true, Reason: ReasonAdminOverride}
	}
	if rec == nil || rec.Validate() != nil {
		return Decision{Reason: ReasonNoSubscription}
	}

	st := rec.State()
	switch st.Kind {
	case subscription.StateSuspended:
		return Decision{Reason: ReasonPaymentSuspended}
	case subscription.StateActive, subscription.StateTrialing:
		return Decision{CanAccessPremium: true, Reason: ReasonActive}
	case subscription.StatePendingCancellation:
		if st.Granting(now) {
			return Decision{CanAccessPremium: true, Reason: ReasonActivePendingCancellation}
		}
		return Decision{Reason: ReasonExpired, ReconcileDue: true}
	}
	return Decision{Reason: ReasonExpired}
}
