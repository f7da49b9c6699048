package alarm

import (
	"fmt"
	"strings"
)

// State is the lifecycle position of an alarm.
type State uint8

const (
	// StateUnknown is the zero value and never produced by a valid authority.
	StateUnknown State = iota
	// StateScheduled waits for its fire date.
	StateScheduled
	// StateCountdown waits for a relative timer (for example after a snooze).
	StateCountdown
	// StatePaused is a scheduled alarm put on hold by the user.
	StatePaused
	// StateRunning is an alerting alarm; only here the presentation host may be invoked.
	StateRunning
	// StateCompleted is terminal: the alarm alerted and was dismissed.
	StateCompleted
	// StateCancelled is terminal: the alarm was cancelled before completion.
	StateCancelled
)

//nolint:gochecknoglobals // Lookup tables are read-only.
var (
	stateNames = map[State]string{
		StateUnknown:   "unknown",
		StateScheduled: "scheduled",
		StateCountdown: "countdown",
		StatePaused:    "paused",
		StateRunning:   "running",
		StateCompleted: "completed",
		StateCancelled: "cancelled",
	}

	// stateAliases maps alternative authority vocabulary onto canonical states.
	stateAliases = map[string]State{
		"alerting": StateRunning,
		"canceled": StateCancelled,
	}

	transitions = map[State][]State{
		StateScheduled: {StateCountdown, StatePaused, StateRunning, StateCancelled},
		StateCountdown: {StatePaused, StateRunning, StateCancelled},
		StatePaused:    {StateScheduled, StateCountdown, StateCancelled},
		StateRunning:   {StateCompleted, StateCancelled, StateCountdown},
	}
)

// String returns the canonical lower-case name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("state(%d)", uint8(s))
}

// ParseState converts a state name (canonical or alias) into a State.
func ParseState(s string) (State, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	for state, name := range stateNames {
		if state != StateUnknown && name == s {
			return state, nil
		}
	}

	if state, ok := stateAliases[s]; ok {
		return state, nil
	}

	return StateUnknown, fmt.Errorf("parse state %q: %w", s, ErrUnknownState)
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// IsCancellable reports whether the consuming application may still cancel the alarm.
func (s State) IsCancellable() bool {
	return s == StateScheduled || s == StatePaused || s == StateCountdown
}

// IsAlerting reports whether the alarm is currently going off.
func (s State) IsAlerting() bool {
	return s == StateRunning
}

// CanTransition reports whether an alarm may move from one state to another.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}
