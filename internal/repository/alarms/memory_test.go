package alarms

import (
	"context"
	"fmt"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// sequentialIDs returns an id generator producing alarm-1, alarm-2 and so on.
func sequentialIDs() func() string {
	n := 0

	return func() string {
		n++
		return fmt.Sprintf("alarm-%d", n)
	}
}

// TestMemoryLifecycle verifies the user-facing controls move alarms through
// their states and that terminal alarms leave the registry.
func TestMemoryLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 1, 1, 7, 0, 0, 0, time.UTC)
	m := NewMemory(WithClock(func() time.Time { return now }), WithIDGenerator(sequentialIDs()))

	first, err := m.Schedule(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "alarm-1", first.ID)
	require.Equal(t, domain.StateScheduled, first.State)
	require.NotNil(t, first.FireDate)

	second, err := m.StartCountdown(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, domain.StateCountdown, second.State)
	require.Nil(t, second.FireDate)

	paused, err := m.Pause(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatePaused, paused.State)

	resumed, err := m.Resume(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateScheduled, resumed.State)

	_, err = m.Pause(ctx, second.ID)
	require.NoError(t, err)

	resumed, err = m.Resume(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateCountdown, resumed.State)

	fired, err := m.Fire(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateRunning, fired.State)

	_, err = m.Cancel(ctx, first.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	snoozed, err := m.Snooze(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateCountdown, snoozed.State)

	_, err = m.Fire(ctx, first.ID)
	require.NoError(t, err)

	stopped, err := m.Stop(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, stopped.State)

	cancelled, err := m.Cancel(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateCancelled, cancelled.State)

	current, err := m.CurrentAlarms(ctx)
	require.NoError(t, err)
	require.Empty(t, current)

	_, err = m.Pause(ctx, first.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

// TestMemoryResumeAfterSnooze verifies a snoozed alarm paused and resumed
// returns to its countdown with the time it had left.
func TestMemoryResumeAfterSnooze(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 1, 1, 7, 0, 0, 0, time.UTC)
	m := NewMemory(
		WithClock(func() time.Time { return now }),
		WithIDGenerator(sequentialIDs()),
		WithSnoozeDuration(10*time.Minute),
	)

	created, err := m.Schedule(ctx, now)
	require.NoError(t, err)

	_, err = m.Fire(ctx, created.ID)
	require.NoError(t, err)

	_, err = m.Snooze(ctx, created.ID)
	require.NoError(t, err)

	now = now.Add(4 * time.Minute)

	_, err = m.Pause(ctx, created.ID)
	require.NoError(t, err)

	now = now.Add(time.Hour)

	resumed, err := m.Resume(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateCountdown, resumed.State)
	require.NotNil(t, resumed.FireDate)
	require.Zero(t, m.FireDue(now))

	// Six minutes of the snooze were left at pause time.
	require.Zero(t, m.FireDue(now.Add(6*time.Minute-time.Second)))
	require.Equal(t, 1, m.FireDue(now.Add(6*time.Minute)))

	_, err = m.Resume(ctx, created.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

// TestMemoryInsert verifies prepared alarms keep their ids, terminal states
// are refused and ids are never reused.
func TestMemoryInsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Insert(ctx, domain.Alarm{ID: "b", State: domain.StatePaused}))
	require.NoError(t, m.Insert(ctx, domain.Alarm{ID: "a", State: domain.StateRunning}))

	err := m.Insert(ctx, domain.Alarm{ID: "c", State: domain.StateCompleted})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	err = m.Insert(ctx, domain.Alarm{ID: "a", State: domain.StateScheduled})
	require.ErrorIs(t, err, domain.ErrIDReused)

	_, err = m.Stop(ctx, "a")
	require.NoError(t, err)

	err = m.Insert(ctx, domain.Alarm{ID: "a", State: domain.StateScheduled})
	require.ErrorIs(t, err, domain.ErrIDReused)

	current, err := m.CurrentAlarms(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.Alarm{{ID: "b", State: domain.StatePaused}}, current)
}

// TestMemoryFireDue verifies only due scheduled and countdown alarms start alerting.
func TestMemoryFireDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 1, 1, 7, 0, 0, 0, time.UTC)
	m := NewMemory(WithClock(func() time.Time { return now }), WithIDGenerator(sequentialIDs()))

	due, err := m.Schedule(ctx, now.Add(-time.Second))
	require.NoError(t, err)

	later, err := m.Schedule(ctx, now.Add(time.Hour))
	require.NoError(t, err)

	held, err := m.Schedule(ctx, now.Add(-time.Minute))
	require.NoError(t, err)

	_, err = m.Pause(ctx, held.ID)
	require.NoError(t, err)

	require.Equal(t, 1, m.FireDue(now))
	require.Equal(t, 0, m.FireDue(now))

	current, err := m.CurrentAlarms(ctx)
	require.NoError(t, err)

	states := make(map[string]domain.State, len(current))
	for _, a := range current {
		states[a.ID] = a.State
	}

	require.Equal(t, map[string]domain.State{
		due.ID:   domain.StateRunning,
		later.ID: domain.StateScheduled,
		held.ID:  domain.StatePaused,
	}, states)
}

// TestMemoryRunAndWatch verifies the background loop fires countdowns and
// that watchers are signalled and released.
func TestMemoryRunAndWatch(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		m := NewMemory()

		changes, err := m.Watch(ctx)
		require.NoError(t, err)

		a, err := m.StartCountdown(ctx, 2*time.Second)
		require.NoError(t, err)

		<-changes

		go m.Run(ctx, time.Second)

		time.Sleep(2500 * time.Millisecond)
		synctest.Wait()

		<-changes

		current, err := m.CurrentAlarms(ctx)
		require.NoError(t, err)
		require.Len(t, current, 1)
		require.Equal(t, a.ID, current[0].ID)
		require.Equal(t, domain.StateRunning, current[0].State)

		cancel()
		synctest.Wait()

		_, ok := <-changes
		require.False(t, ok)
	})
}
