package alarm

import "time"

// Alarm is an immutable view of one alarm as reported by the authority.
type Alarm struct {
	// ID is the opaque identifier, stable across snapshots and never recycled.
	ID string
	// State is the lifecycle position at the time of the snapshot.
	State State
	// FireDate is the scheduled instant; nil for relative schedules.
	FireDate *time.Time
}

// Clone returns a copy that shares no pointers with the receiver.
func (a Alarm) Clone() Alarm {
	if a.FireDate != nil {
		fireDate := *a.FireDate
		a.FireDate = &fireDate
	}

	return a
}

// Equal reports whether two alarms carry the same id, state and fire date.
func (a Alarm) Equal(other Alarm) bool {
	if a.ID != other.ID || a.State != other.State {
		return false
	}

	switch {
	case a.FireDate == nil && other.FireDate == nil:
		return true
	case a.FireDate == nil || other.FireDate == nil:
		return false
	default:
		return a.FireDate.Equal(*other.FireDate)
	}
}

// TimePtr returns a pointer to t. Handy for building alarms with a fire date.
func TimePtr(t time.Time) *time.Time {
	return &t
}
