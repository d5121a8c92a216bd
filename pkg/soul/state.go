package soul

import (
	"errors"
	"fmt"
)

// State is the engine's observable phase. A soul sits Idle between turns,
// cycles through the working states during a turn, passes through exactly one
// terminal state as the turn closes, and returns to Idle for the next turn.
type State string

const (
	StateIdle                  State = "idle"
	StateAwaitingModelResponse State = "awaiting_model_response"
	StateExecutingTools        State = "executing_tools"
	StateAwaitingApproval      State = "awaiting_approval"
	StateCompleted             State = "completed"
	StateFailed                State = "failed"
	StateInterrupted           State = "interrupted"
)

// ErrInvalidTransition indicates an engine bug: a state change the table does
// not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitionTable lists the legal state changes.
//
//nolint:gochecknoglobals // Static transition table
var transitionTable = map[State][]State{
	StateIdle:                  {StateAwaitingModelResponse},
	StateAwaitingModelResponse: {StateExecutingTools, StateAwaitingApproval, StateCompleted, StateFailed, StateInterrupted},
	StateExecutingTools:        {StateAwaitingModelResponse, StateFailed, StateInterrupted},
	StateAwaitingApproval:      {StateAwaitingModelResponse, StateFailed, StateInterrupted},
	StateCompleted:             {StateIdle},
	StateFailed:                {StateIdle},
	StateInterrupted:           {StateIdle},
}

// validTransition reports whether from -> to is in the table.
func validTransition(from, to State) bool {
	for _, allowed := range transitionTable[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transitionTo moves the soul to a new state, enforcing the table. Callers
// hold s.mu.
func (s *Soul) transitionTo(to State) error {
	from := s.state
	if !validTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.state = to
	s.logger.Debug("state %s -> %s", from, to)
	return nil
}
