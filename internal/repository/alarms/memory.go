package alarms

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
)

// DefaultSnoozeDuration is how long a snoozed alarm waits before alerting again.
const DefaultSnoozeDuration = 9 * time.Minute

// record is the authority-side view of an alarm.
type record struct {
	// alarm is what snapshots expose.
	alarm domain.Alarm
	// due is when a scheduled or countdown alarm starts alerting.
	due time.Time
	// remaining is the countdown left when the alarm was paused.
	remaining time.Duration
	// resumeState is the state Resume returns a paused alarm to.
	resumeState domain.State
}

// Memory is an in-process alarm authority. Terminal alarms leave the registry
// and their ids are never handed out again.
type Memory struct {
	// now returns the current time.
	now func() time.Time
	// newID generates alarm ids.
	newID func() string
	// snooze is the countdown applied by Snooze.
	snooze time.Duration

	// mu guards alarms and used.
	mu sync.Mutex
	// alarms holds live alarms by id.
	alarms map[string]*record
	// used holds every id ever registered.
	used map[string]struct{}

	// changes notifies watchers after every mutation.
	changes notifier
}

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithSnoozeDuration overrides DefaultSnoozeDuration.
func WithSnoozeDuration(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.snooze = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides uuid-based ids.
func WithIDGenerator(newID func() string) MemoryOption {
	return func(m *Memory) {
		if newID != nil {
			m.newID = newID
		}
	}
}

// NewMemory creates an empty authority.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:    time.Now,
		newID:  uuid.NewString,
		snooze: DefaultSnoozeDuration,
		alarms: make(map[string]*record),
		used:   make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CurrentAlarms implements the session source.
func (m *Memory) CurrentAlarms(ctx context.Context) ([]domain.Alarm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]domain.Alarm, 0, len(m.alarms))
	for _, rec := range m.alarms {
		result = append(result, rec.alarm.Clone())
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

// Watch implements the session watcher.
func (m *Memory) Watch(ctx context.Context) (<-chan struct{}, error) {
	return m.changes.subscribe(ctx), nil
}

// Schedule registers an alarm that alerts at fireDate.
func (m *Memory) Schedule(ctx context.Context, fireDate time.Time) (domain.Alarm, error) {
	return m.register(ctx, &record{
		alarm: domain.Alarm{State: domain.StateScheduled, FireDate: domain.TimePtr(fireDate)},
		due:   fireDate,
	})
}

// StartCountdown registers a relative alarm that alerts after d. It has no fire date.
func (m *Memory) StartCountdown(ctx context.Context, d time.Duration) (domain.Alarm, error) {
	return m.register(ctx, &record{
		alarm: domain.Alarm{State: domain.StateCountdown},
		due:   m.now().Add(d),
	})
}

// Insert registers a prepared alarm, keeping its id. Terminal states and reused
// ids are rejected. Alarms without a fire date are due immediately.
func (m *Memory) Insert(ctx context.Context, a domain.Alarm) error {
	if a.State.IsTerminal() || a.State == domain.StateUnknown {
		return &domain.TransitionError{ID: a.ID, From: domain.StateUnknown, To: a.State}
	}

	rec := &record{alarm: a.Clone()}
	if a.FireDate != nil {
		rec.due = *a.FireDate
	}

	_, err := m.register(ctx, rec)

	return err
}

// Pause holds a scheduled or countdown alarm.
func (m *Memory) Pause(ctx context.Context, id string) (domain.Alarm, error) {
	var from domain.State

	target := func(rec *record) (domain.State, error) {
		from = rec.alarm.State

		return domain.StatePaused, nil
	}

	return m.transition(ctx, id, target, func(rec *record) {
		rec.remaining = max(rec.due.Sub(m.now()), 0)
		rec.resumeState = from
	})
}

// Resume reactivates a paused alarm in the state it was paused from.
// A countdown continues with the time it had left; a scheduled alarm keeps its
// fire date. Alarms inserted as paused resume by the presence of a fire date.
func (m *Memory) Resume(ctx context.Context, id string) (domain.Alarm, error) {
	target := func(rec *record) (domain.State, error) {
		switch {
		case rec.alarm.State != domain.StatePaused:
			return domain.StateScheduled, nil
		case rec.resumeState != domain.StateUnknown:
			return rec.resumeState, nil
		case rec.alarm.FireDate == nil:
			return domain.StateCountdown, nil
		default:
			return domain.StateScheduled, nil
		}
	}

	return m.transition(ctx, id, target, func(rec *record) {
		if rec.alarm.State == domain.StateCountdown {
			rec.due = m.now().Add(rec.remaining)
		}

		rec.remaining = 0
		rec.resumeState = domain.StateUnknown
	})
}

// Fire starts alerting a scheduled or countdown alarm immediately.
func (m *Memory) Fire(ctx context.Context, id string) (domain.Alarm, error) {
	return m.transition(ctx, id, to(domain.StateRunning), nil)
}

// Stop dismisses an alerting alarm. It completes and leaves the registry.
func (m *Memory) Stop(ctx context.Context, id string) (domain.Alarm, error) {
	return m.transition(ctx, id, to(domain.StateCompleted), nil)
}

// Snooze silences an alerting alarm and restarts it as a countdown.
func (m *Memory) Snooze(ctx context.Context, id string) (domain.Alarm, error) {
	return m.transition(ctx, id, to(domain.StateCountdown), func(rec *record) {
		rec.due = m.now().Add(m.snooze)
	})
}

// Cancel removes an alarm that has not started alerting.
func (m *Memory) Cancel(ctx context.Context, id string) (domain.Alarm, error) {
	target := func(rec *record) (domain.State, error) {
		if !rec.alarm.State.IsCancellable() {
			return domain.StateUnknown, &domain.TransitionError{ID: id, From: rec.alarm.State, To: domain.StateCancelled}
		}

		return domain.StateCancelled, nil
	}

	return m.transition(ctx, id, target, nil)
}

// FireDue moves every scheduled or countdown alarm whose due time has passed
// into running and returns how many alarms fired.
func (m *Memory) FireDue(now time.Time) int {
	m.mu.Lock()

	fired := 0

	for _, rec := range m.alarms {
		if rec.alarm.State != domain.StateScheduled && rec.alarm.State != domain.StateCountdown {
			continue
		}

		if rec.due.After(now) {
			continue
		}

		rec.alarm.State = domain.StateRunning
		fired++
	}
	m.mu.Unlock()

	if fired > 0 {
		m.changes.notify()
	}

	return fired
}

// Run fires due alarms every interval until ctx is canceled.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if fired := m.FireDue(m.now()); fired > 0 {
				logger.InfoKV(ctx, "Alarms fired", "count", fired)
			}
		}
	}
}

// register stores rec under a new or provided id.
func (m *Memory) register(ctx context.Context, rec *record) (domain.Alarm, error) {
	if err := ctx.Err(); err != nil {
		return domain.Alarm{}, err
	}

	m.mu.Lock()

	if rec.alarm.ID == "" {
		rec.alarm.ID = m.newID()
	}

	if _, taken := m.used[rec.alarm.ID]; taken {
		m.mu.Unlock()

		return domain.Alarm{}, fmt.Errorf("register %q: %w", rec.alarm.ID, domain.ErrIDReused)
	}

	m.used[rec.alarm.ID] = struct{}{}
	m.alarms[rec.alarm.ID] = rec
	result := rec.alarm.Clone()
	m.mu.Unlock()

	m.changes.notify()

	return result, nil
}

// targetFunc picks the next state for an alarm or rejects the change.
type targetFunc func(rec *record) (domain.State, error)

// to returns a targetFunc for a fixed state.
func to(state domain.State) targetFunc {
	return func(*record) (domain.State, error) {
		return state, nil
	}
}

// transition validates and applies a state change, then notifies watchers.
// Terminal states remove the alarm from the registry.
func (m *Memory) transition(ctx context.Context, id string, target targetFunc, mutate func(*record)) (domain.Alarm, error) {
	if err := ctx.Err(); err != nil {
		return domain.Alarm{}, err
	}

	m.mu.Lock()

	rec, ok := m.alarms[id]
	if !ok {
		m.mu.Unlock()

		return domain.Alarm{}, fmt.Errorf("alarm %q: %w", id, domain.ErrNotFound)
	}

	next, err := target(rec)
	if err != nil {
		m.mu.Unlock()

		return domain.Alarm{}, err
	}

	if !domain.CanTransition(rec.alarm.State, next) {
		from := rec.alarm.State
		m.mu.Unlock()

		return domain.Alarm{}, &domain.TransitionError{ID: id, From: from, To: next}
	}

	rec.alarm.State = next
	if mutate != nil {
		mutate(rec)
	}

	if next.IsTerminal() {
		delete(m.alarms, id)
	}

	result := rec.alarm.Clone()
	m.mu.Unlock()

	m.changes.notify()

	return result, nil
}
