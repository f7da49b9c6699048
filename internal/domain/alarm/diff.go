package alarm

import "sort"

// Diff classifies the difference between two snapshots.
//
// Per-alarm changes come first in ascending id order, one per affected id:
// Added for new ids, Removed for vanished ids and StateChanged for ids whose
// state differs. A fire date change alone is not reported. A single
// ListChanged describing current always comes last, even when nothing else
// changed. Diff has no side effects and never fails.
func Diff(previous, current Snapshot) []Change {
	ids := make([]string, 0, previous.Len()+current.Len())

	for id := range previous.byID {
		ids = append(ids, id)
	}

	for id := range current.byID {
		if _, seen := previous.byID[id]; !seen {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	changes := make([]Change, 0, len(ids)+1)

	for _, id := range ids {
		before, hadBefore := previous.byID[id]
		after, hasAfter := current.byID[id]

		switch {
		case hasAfter && !hadBefore:
			changes = append(changes, Added{Alarm: after.Clone()})
		case hadBefore && !hasAfter:
			changes = append(changes, Removed{ID: id, LastState: before.State})
		case before.State != after.State:
			changes = append(changes, StateChanged{
				ID:            id,
				PreviousState: before.State,
				NewState:      after.State,
				FireDate:      after.Clone().FireDate,
			})
		}
	}

	return append(changes, ListChanged{
		TotalCount:     current.Len(),
		ScheduledCount: current.ScheduledCount(),
	})
}
