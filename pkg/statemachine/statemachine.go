package statemachine

import "context"

// State is a node of the transition graph.
type State interface {
	Name() string
}

// Event triggers a move from one state to another.
type Event interface {
	Name() string
}

// Guard decides at runtime whether a transition may be taken.
// data carries caller-specific input, e.g. the current time or the record being changed.
type Guard func(ctx context.Context, from State, event Event, data any) bool

// Transition describes a single edge of the graph.
type Transition struct {
	From   State
	To     State
	Event  Event
	Guards []Guard // all must pass
}

// StringState is a string-backed State.
type StringState string

func (s StringState) Name() string {
	return string(s)
}

// StringEvent is a string-backed Event.
type StringEvent string

func (e StringEvent) Name() string {
	return string(e)
}
