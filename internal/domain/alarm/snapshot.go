package alarm

import "sort"

// Snapshot is the set of alarms taken at one observation instant.
// The zero value is an empty snapshot.
type Snapshot struct {
	// byID holds every alarm keyed by its id.
	byID map[string]Alarm
}

// NewSnapshot builds a snapshot and rejects duplicate ids with *DuplicateIDError.
func NewSnapshot(alarms ...Alarm) (Snapshot, error) {
	byID := make(map[string]Alarm, len(alarms))

	for _, a := range alarms {
		if _, exists := byID[a.ID]; exists {
			return Snapshot{}, &DuplicateIDError{ID: a.ID}
		}

		byID[a.ID] = a.Clone()
	}

	return Snapshot{byID: byID}, nil
}

// MustSnapshot is NewSnapshot that panics on error. Intended for tests and literals.
func MustSnapshot(alarms ...Alarm) Snapshot {
	s, err := NewSnapshot(alarms...)
	if err != nil {
		panic(err)
	}

	return s
}

// Len returns the number of alarms.
func (s Snapshot) Len() int {
	return len(s.byID)
}

// Get returns the alarm with the given id.
func (s Snapshot) Get(id string) (Alarm, bool) {
	a, ok := s.byID[id]
	if !ok {
		return Alarm{}, false
	}

	return a.Clone(), true
}

// IDs returns all ids in ascending order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Alarms returns copies of all alarms ordered by id.
func (s Snapshot) Alarms() []Alarm {
	result := make([]Alarm, 0, len(s.byID))
	for _, id := range s.IDs() {
		result = append(result, s.byID[id].Clone())
	}

	return result
}

// ScheduledCount returns how many alarms are in StateScheduled.
func (s Snapshot) ScheduledCount() int {
	count := 0

	for _, a := range s.byID {
		if a.State == StateScheduled {
			count++
		}
	}

	return count
}
