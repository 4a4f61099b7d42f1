package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

// SubscriptionView is the public view of a subscription record. Processor
// references and bookkeeping fields stay internal.
type SubscriptionView struct {
	ID              uuid.UUID                    `json:"id"`
	Plan            subscription.Plan            `json:"plan"`
	Status          subscription.Status          `json:"status"`
	State           string                       `json:"state"`
	IsActive        bool                         `json:"is_active"`
	CancelationType subscription.CancelationType `json:"cancelation_type,omitempty"`
	StartDate       time.Time                    `json:"start_date"`
	EndDate         *time.Time                   `json:"end_date,omitempty"`
	SupersededAt    *time.Time                   `json:"superseded_at,omitempty"`
}

func newSubscriptionView(rec *subscription.Record) SubscriptionView {
	return SubscriptionView{
		ID:              rec.ID,
		Plan:            rec.Plan,
		Status:          rec.Status,
		State:           rec.State().Name(),
		IsActive:        rec.IsActive,
		CancelationType: rec.CancelationType,
		StartDate:       rec.StartDate,
		EndDate:         rec.EndDate,
		SupersededAt:    rec.SupersededAt,
	}
}

// SurfaceDecision is the gate decision for one surface.
type SurfaceDecision struct {
	Surface   entitlement.Surface `json:"surface"`
	CanAccess bool                `json:"can_access"`
	Reason    entitlement.Reason  `json:"reason"`
}

type cancelRequest struct {
	Immediate bool `json:"immediate"`
}

type changePlanRequest struct {
	Plan subscription.Plan `json:"plan" validate:"required,oneof=monthly annual"`
}

type webhookAck struct {
	Received bool `json:"received"`
}
