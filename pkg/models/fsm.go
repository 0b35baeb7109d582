package models

import (
	"fmt"
)

// TrialStatus is the lifecycle state of a single trial
type TrialStatus string

const (
	TrialStatusQueued     TrialStatus = "queued"     // Submitted, waiting for a free slot
	TrialStatusDispatched TrialStatus = "dispatched" // Slot and reservation taken, worker starting
	TrialStatusRunning    TrialStatus = "running"    // Training loop active
	TrialStatusCompleted  TrialStatus = "completed"  // Result available
	TrialStatusFailed     TrialStatus = "failed"     // Dropped, never retried
	TrialStatusCanceled   TrialStatus = "canceled"   // Dequeued or interrupted by Stop
)

// validTrialTransitions maps from-state to allowed to-states
var validTrialTransitions = map[TrialStatus]map[TrialStatus]bool{
	TrialStatusQueued: {
		TrialStatusDispatched: true,
		TrialStatusCanceled:   true,
	},
	TrialStatusDispatched: {
		TrialStatusRunning: true,
		TrialStatusFailed:  true, // factory or reservation failure
	},
	TrialStatusRunning: {
		TrialStatusCompleted: true,
		TrialStatusFailed:    true,
		TrialStatusCanceled:  true,
	},
	TrialStatusCompleted: {},
	TrialStatusFailed:    {},
	TrialStatusCanceled:  {},
}

// ValidateTrialTransition checks if a trial state transition is valid
func ValidateTrialTransition(from, to TrialStatus) error {
	allowed, exists := validTrialTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalTrialState returns true if no further transitions are possible
func IsTerminalTrialState(s TrialStatus) bool {
	return s == TrialStatusCompleted || s == TrialStatusFailed || s == TrialStatusCanceled
}

// IsActiveTrialState returns true if the trial occupies a worker slot
func IsActiveTrialState(s TrialStatus) bool {
	return s == TrialStatusDispatched || s == TrialStatusRunning
}

// ExecutorState is the lifecycle state of the trial executor
type ExecutorState string

const (
	ExecutorIdle      ExecutorState = "idle"
	ExecutorAccepting ExecutorState = "accepting"
	ExecutorDraining  ExecutorState = "draining"
	ExecutorStopped   ExecutorState = "stopped"
)
