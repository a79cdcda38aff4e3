// Package fsm defines the conversation session lifecycle states and their transition table.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle                 State = "idle"
	StateAwaitingSessionStart State = "awaiting_session_start"
	StateActive               State = "active"
	StateDraining             State = "draining"
	StateTerminated           State = "terminated"
)

const (
	EventStart          Event = "start"
	EventSessionStarted Event = "session_started"
	EventDrain          Event = "drain"
	EventTerminate      Event = "terminate"
)

// Live reports whether a session owns the state (a background task is running).
func (s State) Live() bool {
	switch s {
	case StateAwaitingSessionStart, StateActive, StateDraining:
		return true
	default:
		return false
	}
}

func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle, StateTerminated:
		switch event {
		case EventStart:
			return StateAwaitingSessionStart, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateAwaitingSessionStart:
		switch event {
		case EventSessionStarted:
			return StateActive, nil
		case EventDrain:
			return StateDraining, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateActive:
		switch event {
		case EventSessionStarted:
			// Re-entry after every update.
			return StateActive, nil
		case EventDrain:
			return StateDraining, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateDraining:
		switch event {
		case EventDrain:
			return StateDraining, nil
		case EventTerminate:
			return StateTerminated, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
