package subscription

// Plan is the billing plan of a subscription.
// PlanFree is never stored: a user on the free tier has no record at all.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanMonthly Plan = "monthly"
	PlanAnnual  Plan = "annual"
)

// Paid reports whether p is a plan a record can carry.
func (p Plan) Paid() bool {
	return p == PlanMonthly || p == PlanAnnual
}

// Status is the stored lifecycle status of a record.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusCanceled   Status = "canceled"
	StatusSuspended  Status = "suspended"
)

func (s Status) valid() bool {
	switch s {
	case StatusIncomplete, StatusTrialing, StatusActive, StatusCanceled, StatusSuspended:
		return true
	}
	return false
}

// CancelationType says how a canceled record ends. Empty unless Status is canceled.
type CancelationType string

const (
	CancelImmediate   CancelationType = "immediate"
	CancelEndOfPeriod CancelationType = "end_of_period"
)

// BillingInterval is the renewal cycle of a paid plan.
type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalAnnual  BillingInterval = "annual"
)
