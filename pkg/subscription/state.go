package subscription

import "time"

// StateKind is the explicit lifecycle state derived from a record.
// It replaces reasoning about the status/isActive/cancelationType combination.
type StateKind uint8

const (
	StateIncomplete StateKind = iota + 1
	StateTrialing
	StateActive
	StatePendingCancellation
	StateSuspended
	StateExpired
)

var stateNames = map[StateKind]string{
	StateIncomplete:          "incomplete",
	StateTrialing:            "trialing",
	StateActive:              "active",
	StatePendingCancellation: "pending_cancellation",
	StateSuspended:           "suspended",
	StateExpired:             "expired",
}

// Name implements statemachine.State.
func (k StateKind) Name() string {
	if n, ok := stateNames[k]; ok {
		return n
	}
	return "none"
}

func (k StateKind) String() string { return k.Name() }

// State is a tagged lifecycle state. EndDate is set only for
// StatePendingCancellation, where it marks the end of the grant period.
type State struct {
	Kind    StateKind
	EndDate time.Time
}

// Name implements statemachine.State.
func (s State) Name() string { return s.Kind.Name() }

// Granting reports whether the state confers premium access at now.
// A pending cancellation stops granting once now reaches its end date, even
// before reconciliation flips the stored flag.
func (s State) Granting(now time.Time) bool {
	switch s.Kind {
	case StateActive, StateTrialing:
		return true
	case StatePendingCancellation:
		return now.Before(s.EndDate)
	}
	return false
}

// DueForExpiry reports whether a pending cancellation has reached its end date.
func (s State) DueForExpiry(now time.Time) bool {
	return s.Kind == StatePendingCancellation && !now.Before(s.EndDate)
}
