package subscription

import (
	"fmt"
	"time"
)

// EventType is a processor lifecycle notification, normalized across processors.
type EventType string

const (
	EventCreated          EventType = "created"
	EventRenewed          EventType = "renewed"
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventPaymentFailed    EventType = "payment_failed"
	EventCanceled         EventType = "canceled"
	EventUpdated          EventType = "updated"
	EventUnknown          EventType = "unknown"
)

// Known reports whether the engine has rules for t.
func (t EventType) Known() bool {
	switch t {
	case EventCreated, EventRenewed, EventPaymentSucceeded, EventPaymentFailed, EventCanceled, EventUpdated:
		return true
	}
	return false
}

// Event is a verified processor notification.
type Event struct {
	ID                 string     `json:"id"`
	Type               EventType  `json:"type"`
	ProviderType       string     `json:"provider_type,omitempty"`
	ExternalPaymentRef string     `json:"external_payment_ref"`
	UserID             string     `json:"user_id,omitempty"`
	Plan               Plan       `json:"plan,omitempty"`
	Trialing           bool       `json:"trialing,omitempty"`
	Immediate          bool       `json:"immediate,omitempty"`
	PeriodEnd          *time.Time `json:"period_end,omitempty"`
	OccurredAt         time.Time  `json:"occurred_at"`
}

// IdempotencyKey identifies a delivery across retries.
func (e Event) IdempotencyKey() string {
	return e.ExternalPaymentRef + ":" + e.ID
}

// Validate checks the fields every known event needs.
func (e Event) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: missing event id", ErrInvalidEvent)
	case e.ExternalPaymentRef == "":
		return fmt.Errorf("%w: missing external payment ref", ErrInvalidEvent)
	case e.OccurredAt.IsZero():
		return fmt.Errorf("%w: missing occurrence time", ErrInvalidEvent)
	case e.Plan != "" && !e.Plan.Paid():
		return fmt.Errorf("%w: plan %q", ErrInvalidEvent, e.Plan)
	}
	return nil
}
