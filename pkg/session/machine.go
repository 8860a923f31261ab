package session

import (
	"errors"
	"fmt"
)

// State is the orchestrator state.
type State string

const (
	StateIdle             State = "idle"
	StateListening        State = "listening"
	StateAwaitingResponse State = "awaiting-response"
	StateSpeaking         State = "speaking"
	StateError            State = "error"
)

// ErrInvalidTransition is returned for a transition the machine does not allow.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// transitions lists the allowed moves from each state.
var transitions = map[State][]State{
	StateIdle:             {StateListening, StateAwaitingResponse, StateSpeaking, StateError},
	StateListening:        {StateAwaitingResponse, StateIdle, StateError},
	StateAwaitingResponse: {StateSpeaking},
	StateSpeaking:         {StateIdle, StateSpeaking},
	StateError:            {StateIdle},
}

// Machine guards the orchestrator state. It is not safe for concurrent use;
// Session serialises access with its own mutex.
type Machine struct {
	state State
}

// NewMachine returns a machine in StateIdle.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// CanTransition reports whether moving to next is allowed.
func (m *Machine) CanTransition(next State) bool {
	for _, s := range transitions[m.state] {
		if s == next {
			return true
		}
	}
	return false
}

// Transition moves to next or returns ErrInvalidTransition.
func (m *Machine) Transition(next State) error {
	if !m.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
	}
	m.state = next
	return nil
}

// Reset forces the machine back to StateIdle.
func (m *Machine) Reset() {
	m.state = StateIdle
}
