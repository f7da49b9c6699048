package alarm

import "time"

// Change is one classified difference between two snapshots.
// The set of implementations is closed: Added, Removed, StateChanged and ListChanged.
type Change interface {
	// AlarmID returns the affected alarm id, or "" for list-level changes.
	AlarmID() string

	isChange()
}

// Added reports an alarm present in the current snapshot only.
type Added struct {
	// Alarm is the new alarm as observed.
	Alarm Alarm
}

// Removed reports an alarm present in the previous snapshot only.
type Removed struct {
	// ID is the alarm that disappeared.
	ID string
	// LastState is the state seen before removal; it tells cancellation from completion.
	LastState State
}

// StateChanged reports an alarm whose state differs between snapshots.
type StateChanged struct {
	// ID is the alarm that changed.
	ID string
	// PreviousState is the state in the previous snapshot.
	PreviousState State
	// NewState is the state in the current snapshot.
	NewState State
	// FireDate is the fire date from the current snapshot.
	FireDate *time.Time
}

// ListChanged summarizes the current snapshot. It closes every diff.
type ListChanged struct {
	// TotalCount is the number of alarms in the current snapshot.
	TotalCount int
	// ScheduledCount is the number of alarms in StateScheduled.
	ScheduledCount int
}

// AlarmID implements Change.
func (c Added) AlarmID() string { return c.Alarm.ID }

// AlarmID implements Change.
func (c Removed) AlarmID() string { return c.ID }

// AlarmID implements Change.
func (c StateChanged) AlarmID() string { return c.ID }

// AlarmID implements Change.
func (ListChanged) AlarmID() string { return "" }

// Fired reports whether the change moves the alarm into the alerting state.
func (c StateChanged) Fired() bool {
	return c.NewState.IsAlerting() && !c.PreviousState.IsAlerting()
}

func (Added) isChange()        {}
func (Removed) isChange()      {}
func (StateChanged) isChange() {}
func (ListChanged) isChange()  {}
