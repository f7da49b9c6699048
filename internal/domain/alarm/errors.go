package alarm

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable marks a failed read from the alarm authority.
	ErrSourceUnavailable = errors.New("alarm source unavailable")
	// ErrInvariantViolation marks an authority contract violation such as duplicate ids.
	ErrInvariantViolation = errors.New("alarm invariant violation")
	// ErrSubscriberFailure marks a subscriber callback that returned an error or panicked.
	ErrSubscriberFailure = errors.New("subscriber failure")
	// ErrUnknownState is returned when a state name cannot be parsed.
	ErrUnknownState = errors.New("unknown alarm state")
	// ErrInvalidTransition is returned when an alarm cannot move to the requested state.
	ErrInvalidTransition = errors.New("invalid alarm state transition")
	// ErrNotFound is returned when an alarm id is not known to the authority.
	ErrNotFound = errors.New("alarm not found")
	// ErrIDReused is returned when an authority is asked to recycle a retired id.
	ErrIDReused = errors.New("alarm id already used")
)

// DuplicateIDError reports an id seen more than once within one snapshot.
type DuplicateIDError struct {
	// ID is the repeated alarm id.
	ID string
}

// Error implements error.
func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("%s: duplicate alarm id %q in snapshot", ErrInvariantViolation, e.ID)
}

// Is makes DuplicateIDError match ErrInvariantViolation.
func (e *DuplicateIDError) Is(target error) bool {
	return target == ErrInvariantViolation
}

// TransitionError describes a rejected state change.
type TransitionError struct {
	// ID is the alarm that was asked to change.
	ID string
	// From is the current state.
	From State
	// To is the requested state.
	To State
}

// Error implements error.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: alarm %q cannot go from %s to %s", ErrInvalidTransition, e.ID, e.From, e.To)
}

// Is makes TransitionError match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
