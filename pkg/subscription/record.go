package subscription

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is one lineage of a user's subscription.
// At most one record per user is current (SupersededAt == nil); older lineages are kept as history.
type Record struct {
	ID                 uuid.UUID       `json:"id"`
	UserID             string          `json:"user_id"`
	Plan               Plan            `json:"plan"`
	Status             Status          `json:"status"`
	IsActive           bool            `json:"is_active"`
	CancelationType    CancelationType `json:"cancelation_type,omitempty"`
	StartDate          time.Time       `json:"start_date"`
	EndDate            *time.Time      `json:"end_date,omitempty"`
	ExternalPaymentRef string          `json:"external_payment_ref"`
	Version            int64           `json:"version"`
	LastEventID        string          `json:"last_event_id,omitempty"`
	LastEventAt        *time.Time      `json:"last_event_at,omitempty"`
	SupersededAt       *time.Time      `json:"superseded_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// State derives the tagged lifecycle state.
func (r *Record) State() State {
	switch r.Status {
	case StatusSuspended:
		return State{Kind: StateSuspended}
	case StatusIncomplete:
		return State{Kind: StateIncomplete}
	case StatusCanceled:
		if r.IsActive && r.CancelationType == CancelEndOfPeriod && r.EndDate != nil {
			return State{Kind: StatePendingCancellation, EndDate: *r.EndDate}
		}
		return State{Kind: StateExpired}
	case StatusTrialing:
		if r.IsActive {
			return State{Kind: StateTrialing}
		}
	case StatusActive:
		if r.IsActive {
			return State{Kind: StateActive}
		}
	}
	return State{Kind: StateExpired}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.EndDate = cloneTime(r.EndDate)
	c.LastEventAt = cloneTime(r.LastEventAt)
	c.SupersededAt = cloneTime(r.SupersededAt)
	return &c
}

// Validate checks field-level invariants.
func (r *Record) Validate() error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	case r.ID == uuid.Nil:
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	case r.UserID == "":
		return fmt.Errorf("%w: missing user id", ErrInvalidRecord)
	case !r.Plan.Paid():
		return fmt.Errorf("%w: plan %q", ErrInvalidRecord, r.Plan)
	case !r.Status.valid():
		return fmt.Errorf("%w: status %q", ErrInvalidRecord, r.Status)
	case r.EndDate != nil && r.EndDate.Before(r.StartDate):
		return fmt.Errorf("%w: end date before start date", ErrInvalidRecord)
	}

	if r.Status == StatusCanceled {
		switch r.CancelationType {
		case CancelImmediate:
			if r.IsActive {
				return fmt.Errorf("%w: immediate cancellation must be inactive", ErrInvalidRecord)
			}
		case CancelEndOfPeriod:
			if r.EndDate == nil {
				return fmt.Errorf("%w: end-of-period cancellation without end date", ErrInvalidRecord)
			}
		default:
			return fmt.Errorf("%w: canceled without cancelation type", ErrInvalidRecord)
		}
	} else if r.CancelationType != "" {
		return fmt.Errorf("%w: cancelation type on %s record", ErrInvalidRecord, r.Status)
	}

	return nil
}

// alreadyApplied reports whether ev was applied to this lineage already, or is
// older than the last applied event.
func (r *Record) alreadyApplied(ev Event) bool {
	if r.ExternalPaymentRef != ev.ExternalPaymentRef {
		return false
	}
	if r.LastEventID == ev.ID {
		return true
	}
	return r.LastEventAt != nil && ev.OccurredAt.Before(*r.LastEventAt)
}

func (r *Record) markApplied(ev Event) {
	r.LastEventID = ev.ID
	at := ev.OccurredAt
	r.LastEventAt = &at
}

func newRecord(userID string, plan Plan, ref string, now time.Time) *Record {
	return &Record{
		ID:                 uuid.New(),
		UserID:             userID,
		Plan:               plan,
		ExternalPaymentRef: ref,
		StartDate:          now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func ptr[T any](v T) *T { return &v }
