package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

// RoutingKeySubscriptionChanged is the routing key of SubscriptionChanged messages.
const RoutingKeySubscriptionChanged = "subscription.changed"

// Message is one outgoing event.
type Message struct {
	ID         string
	RoutingKey string
	OccurredAt time.Time
	Body       any
}

// SubscriptionChanged is the body published after a committed write.
type SubscriptionChanged struct {
	UserID             string     `json:"user_id"`
	SubscriptionID     string     `json:"subscription_id"`
	Cause              string     `json:"cause"`
	From               string     `json:"from"`
	To                 string     `json:"to"`
	Plan               string     `json:"plan"`
	Status             string     `json:"status"`
	IsActive           bool       `json:"is_active"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	ExternalPaymentRef string     `json:"external_payment_ref,omitempty"`
	Version            int64      `json:"version"`
}

// NewSubscriptionChanged builds the message for ch.
func NewSubscriptionChanged(ch subscription.Change, at time.Time) Message {
	rec := ch.Record
	body := SubscriptionChanged{
		UserID: ch.UserID,
		Cause:  ch.Cause,
		From:   ch.From.Name(),
		To:     ch.To.Name(),
	}
	if rec != nil {
		body.SubscriptionID = rec.ID.String()
		body.Plan = string(rec.Plan)
		body.Status = string(rec.Status)
		body.IsActive = rec.IsActive
		body.EndDate = rec.EndDate
		body.ExternalPaymentRef = rec.ExternalPaymentRef
		body.Version = rec.Version
	}
	return Message{
		ID:         uuid.NewString(),
		RoutingKey: RoutingKeySubscriptionChanged,
		OccurredAt: at,
		Body:       body,
	}
}
