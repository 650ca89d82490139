// Package entity defines the contracts implemented by each entity kind:
// a validator that replays an entity's history into a minimal state machine
// and decides whether one more event is legal, and a view reducer that
// folds ordered events into the externally consumed projection.
//
// The hub is agnostic to the kinds' internals; it dispatches purely on
// Matches. Each kind models its event payloads as a closed sum type with
// exhaustive switches, so adding an event type is a compile-time concern.
package entity

import "github.com/larder/larder/pkg/event"

// Validator owns one entity kind's event types.
type Validator interface {
	// EntityType names the kind for persistence and client bookkeeping.
	EntityType() event.EntityType

	// Matches reports whether this validator owns the given event type.
	Matches(eventType string) bool

	// NewState returns the empty validation state for one entity.
	NewState() State
}

// State is the minimal in-memory summary of one entity's accepted history,
// sufficient to check legality of the next event. It is rebuilt by replay
// on every validation cycle and never persisted.
type State interface {
	// Apply decodes the event payload, validates it structurally, checks
	// it against the replayed state, and advances the state. The returned
	// error is a typed validation error; it is terminal for the event and
	// never retried.
	Apply(ev event.Event) error
}

// Replay folds ordered events through a fresh validation state. Events are
// assumed to be an accepted history, so any validation error indicates a
// corrupt log and is returned as-is.
func Replay(v Validator, events []event.Event) (State, error) {
	state := v.NewState()
	for _, ev := range events {
		if err := state.Apply(ev); err != nil {
			return nil, err
		}
	}
	return state, nil
}
