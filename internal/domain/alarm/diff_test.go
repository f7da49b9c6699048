package alarm

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestDiff_AddedToEmpty covers an alarm appearing in an empty registry.
func TestDiff_AddedToEmpty(t *testing.T) {
	t.Parallel()

	fireDate := time.Date(2026, 10, 20, 7, 30, 0, 0, time.UTC)
	current := MustSnapshot(Alarm{ID: "X", State: StateScheduled, FireDate: TimePtr(fireDate)})

	changes := Diff(Snapshot{}, current)

	require.Equal(t, []Change{
		Added{Alarm: Alarm{ID: "X", State: StateScheduled, FireDate: TimePtr(fireDate)}},
		ListChanged{TotalCount: 1, ScheduledCount: 1},
	}, changes)
}

// TestDiff_StateChangedToRunning covers an alarm going off.
func TestDiff_StateChangedToRunning(t *testing.T) {
	t.Parallel()

	previous := MustSnapshot(Alarm{ID: "X", State: StateScheduled})
	current := MustSnapshot(Alarm{ID: "X", State: StateRunning})

	changes := Diff(previous, current)
	require.Len(t, changes, 2)

	changed, ok := changes[0].(StateChanged)
	require.True(t, ok)
	require.Equal(t, StateChanged{ID: "X", PreviousState: StateScheduled, NewState: StateRunning}, changed)
	require.True(t, changed.Fired())
	require.Equal(t, ListChanged{TotalCount: 1, ScheduledCount: 0}, changes[1])
}

// TestDiff_Removed covers an alarm vanishing from the registry.
func TestDiff_Removed(t *testing.T) {
	t.Parallel()

	previous := MustSnapshot(Alarm{ID: "X", State: StateScheduled})

	changes := Diff(previous, Snapshot{})

	require.Equal(t, []Change{
		Removed{ID: "X", LastState: StateScheduled},
		ListChanged{TotalCount: 0, ScheduledCount: 0},
	}, changes)
}

// TestDiff_Identical asserts that an unchanged snapshot still yields the list heartbeat.
func TestDiff_Identical(t *testing.T) {
	t.Parallel()

	s := MustSnapshot(
		Alarm{ID: "a", State: StateScheduled},
		Alarm{ID: "b", State: StatePaused},
	)

	require.Equal(t, []Change{ListChanged{TotalCount: 2, ScheduledCount: 1}}, Diff(s, s))
	require.Equal(t, []Change{ListChanged{}}, Diff(Snapshot{}, Snapshot{}))
}

// TestDiff_FireDateOnlyIsIgnored asserts that rescheduling without a state change is silent.
func TestDiff_FireDateOnlyIsIgnored(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 10, 20, 7, 0, 0, 0, time.UTC)
	previous := MustSnapshot(Alarm{ID: "a", State: StateScheduled, FireDate: TimePtr(at)})
	current := MustSnapshot(Alarm{ID: "a", State: StateScheduled, FireDate: TimePtr(at.Add(time.Hour))})

	require.Equal(t, []Change{ListChanged{TotalCount: 1, ScheduledCount: 1}}, Diff(previous, current))
}

// TestDiff_MixedOrdering checks ascending id order and the trailing summary.
func TestDiff_MixedOrdering(t *testing.T) {
	t.Parallel()

	previous := MustSnapshot(
		Alarm{ID: "b", State: StateScheduled},
		Alarm{ID: "d", State: StateRunning},
		Alarm{ID: "e", State: StatePaused},
	)
	current := MustSnapshot(
		Alarm{ID: "a", State: StateScheduled},
		Alarm{ID: "b", State: StatePaused},
		Alarm{ID: "c", State: StateCountdown},
		Alarm{ID: "e", State: StatePaused},
	)

	changes := Diff(previous, current)

	require.Equal(t, []Change{
		Added{Alarm: Alarm{ID: "a", State: StateScheduled}},
		StateChanged{ID: "b", PreviousState: StateScheduled, NewState: StatePaused},
		Added{Alarm: Alarm{ID: "c", State: StateCountdown}},
		Removed{ID: "d", LastState: StateRunning},
		ListChanged{TotalCount: 4, ScheduledCount: 1},
	}, changes)
}

// TestDiff_RandomizedProperties checks determinism and id conservation over random snapshots.
func TestDiff_RandomizedProperties(t *testing.T) {
	t.Parallel()

	rnd := rand.New(rand.NewSource(20261019)) //nolint:gosec // Deterministic test data.
	states := []State{StateScheduled, StateCountdown, StatePaused, StateRunning}

	randomSnapshot := func() Snapshot {
		var alarms []Alarm

		for i := range 12 {
			if rnd.Intn(2) == 0 {
				continue
			}

			alarms = append(alarms, Alarm{
				ID:    fmt.Sprintf("alarm-%02d", i),
				State: states[rnd.Intn(len(states))],
			})
		}

		return MustSnapshot(alarms...)
	}

	for range 200 {
		previous, current := randomSnapshot(), randomSnapshot()

		first := Diff(previous, current)
		require.Equal(t, first, Diff(previous, current))

		// The summary is always last and unique.
		last, ok := first[len(first)-1].(ListChanged)
		require.True(t, ok)
		require.Equal(t, current.Len(), last.TotalCount)
		require.Equal(t, current.ScheduledCount(), last.ScheduledCount)

		// previous - removed + added == current.
		ids := make(map[string]struct{})
		for _, id := range previous.IDs() {
			ids[id] = struct{}{}
		}

		for _, change := range first[:len(first)-1] {
			switch c := change.(type) {
			case Added:
				ids[c.Alarm.ID] = struct{}{}
			case Removed:
				delete(ids, c.ID)
			case StateChanged:
				require.NotEqual(t, c.PreviousState, c.NewState)
			case ListChanged:
				t.Fatal("ListChanged must only appear last")
			}
		}

		require.Len(t, ids, current.Len())

		for _, id := range current.IDs() {
			require.Contains(t, ids, id)
		}
	}
}
