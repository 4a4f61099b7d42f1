package statemachine

import (
	"context"
	"fmt"
)

// Table is an immutable transition table.
// It holds no current state: callers pass the state they loaded and get back the next one,
// so a single Table can be shared by any number of goroutines.
type Table struct {
	transitions map[string]map[string][]Transition
}

// New builds a Table from the given transitions.
// Several transitions may share the same from/event pair; they are tried in declaration
// order and the first one whose guards pass wins.
func New(transitions ...Transition) (*Table, error) {
	t := &Table{transitions: make(map[string]map[string][]Transition)}
	for _, tr := range transitions {
		if err := t.add(tr); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustNew is like New but panics on an invalid transition.
func MustNew(transitions ...Transition) *Table {
	t, err := New(transitions...)
	if err != nil {
		panic(fmt.Sprintf("statemachine: %v", err))
	}
	return t
}

// On is a shorthand for declaring a Transition.
func On(from State, event Event, to State, guards ...Guard) Transition {
	return Transition{From: from, To: to, Event: event, Guards: guards}
}

func (t *Table) add(tr Transition) error {
	if tr.From == nil || tr.To == nil || tr.Event == nil {
		return ErrInvalidTransition
	}
	byEvent, ok := t.transitions[tr.From.Name()]
	if !ok {
		byEvent = make(map[string][]Transition)
		t.transitions[tr.From.Name()] = byEvent
	}
	byEvent[tr.Event.Name()] = append(byEvent[tr.Event.Name()], tr)
	return nil
}

// Next resolves the state reached from `from` when `event` happens.
func (t *Table) Next(ctx context.Context, from State, event Event, data any) (State, error) {
	if event == nil {
		return nil, ErrInvalidEvent
	}
	if from == nil {
		return nil, ErrInvalidTransition
	}

	candidates := t.transitions[from.Name()][event.Name()]
	if len(candidates) == 0 {
		return nil, NewErrNoTransitionAvailable(from.Name(), event.Name())
	}

	for _, tr := range candidates {
		if guardsPass(ctx, tr.Guards, from, event, data) {
			return tr.To, nil
		}
	}

	return nil, NewErrTransitionRejected(from.Name(), event.Name())
}

// Can reports whether Next would succeed.
func (t *Table) Can(ctx context.Context, from State, event Event, data any) bool {
	_, err := t.Next(ctx, from, event, data)
	return err == nil
}

// Events lists the events declared for a state, in no particular order.
func (t *Table) Events(from State) []string {
	if from == nil {
		return nil
	}
	byEvent := t.transitions[from.Name()]
	names := make([]string, 0, len(byEvent))
	for name := range byEvent {
		names = append(names, name)
	}
	return names
}

func guardsPass(ctx context.Context, guards []Guard, from State, event Event, data any) bool {
	for _, g := range guards {
		if g != nil && !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}
