// Package run holds the per-service deployment state machine, the
// synchronized result set a deployment run accumulates, and the verdict a
// finished run reports. Pure domain logic - no I/O.
package run

import (
	"context"
	"errors"
)

// =============================================================================
// Service State
// =============================================================================

var ErrInvalidTransition = errors.New("invalid state transition")

// State is the lifecycle state of one service within a deployment run.
type State string

const (
	// StatePending: not yet started this run.
	StatePending State = "pending"
	// StateStarting: start issued, acknowledgment received or awaited.
	StateStarting State = "starting"
	// StateHealthy: started and passed health verification.
	StateHealthy State = "healthy"
	// StateUnhealthy: started but failed health verification in time.
	StateUnhealthy State = "unhealthy"
	// StateFailed: could not be started, or interrupted by deadline expiry.
	StateFailed State = "failed"
	// StateCancelled: interrupted by operator cancellation.
	StateCancelled State = "cancelled"
	// StateStopped: deliberately stopped.
	StateStopped State = "stopped"
)

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed state transitions. There is no
// unhealthy->healthy edge: recovery requires an explicit restart.
var validTransitions = map[State][]State{
	StatePending:   {StateStarting, StateFailed, StateCancelled},
	StateStarting:  {StateHealthy, StateUnhealthy, StateFailed, StateCancelled},
	StateHealthy:   {StateUnhealthy, StateStopped},
	StateUnhealthy: {StateStopped},
	StateStopped:   {StateStarting},
	StateFailed:    {}, // Terminal
	StateCancelled: {}, // Terminal
}

// ValidateTransition checks if a state transition is valid.
func ValidateTransition(from, to State) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return ErrInvalidTransition
}

// Terminal reports whether no further transitions can leave the state.
func (s State) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// InterruptState maps an interrupted context onto the state its victims
// record: deadline expiry is a failure of the run, operator cancellation
// is not.
func InterruptState(ctx context.Context) State {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return StateFailed
	}
	return StateCancelled
}
