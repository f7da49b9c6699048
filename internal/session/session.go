package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oshokin/alarm-bridge/internal/bus"
	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
)

// Source is the authority that owns ground-truth alarm state.
type Source interface {
	CurrentAlarms(ctx context.Context) ([]domain.Alarm, error)
}

// Watcher is implemented by sources that can push "alarms may have changed"
// notifications. The returned channel is closed when the subscription ends.
type Watcher interface {
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// Broker publishes changes and manages listeners. *bus.Bus implements it.
type Broker interface {
	Publish(ctx context.Context, changes []domain.Change) error
	Subscribe(handler bus.Handler, kinds ...bus.Kind) (bus.Handle, error)
	Unsubscribe(handle bus.Handle)
}

var (
	// errSourceRequired is returned by New callers that pass a nil source.
	errSourceRequired = errors.New("source must be provided")
	// errBrokerRequired is returned by New callers that pass a nil broker.
	errBrokerRequired = errors.New("broker must be provided")
)

// Session observes one source and republishes its changes.
type Session struct {
	// source provides snapshots.
	source Source
	// broker receives the diffs.
	broker Broker
	// reporter receives skipped ticks.
	reporter logger.Reporter

	// pollInterval is the polling period when push is unavailable.
	pollInterval time.Duration
	// forcePolling disables push notifications.
	forcePolling bool
	// sourceTimeout bounds a single source read.
	sourceTimeout time.Duration

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	// observing mirrors whether a loop is running.
	observing atomic.Bool
	// cancel stops the running loop.
	cancel context.CancelFunc
	// done is closed when the running loop exits.
	done chan struct{}
	// refresh requests an out-of-band tick; one pending request is kept.
	refresh chan struct{}

	// last is the most recently published snapshot. Only the loop touches it
	// while observing.
	last domain.Snapshot
}

// New creates a stopped session.
func New(source Source, broker Broker, opts ...Option) (*Session, error) {
	if source == nil {
		return nil, errSourceRequired
	}

	if broker == nil {
		return nil, errBrokerRequired
	}

	s := &Session{
		source:        source,
		broker:        broker,
		reporter:      logger.LogReporter{},
		pollInterval:  DefaultPollInterval,
		sourceTimeout: DefaultSourceTimeout,
		refresh:       make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Start captures the initial snapshot and starts the observation loop.
// It is a no-op when the session is already observing and returns once the
// push subscription (or polling timer) is registered, without waiting for a tick.
// The loop outlives ctx cancellation; only Stop ends it.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.observing.Load() {
		return nil
	}

	ctx = logger.WithName(ctx, "session")

	initial, err := s.capture(ctx)
	if err != nil {
		return fmt.Errorf("capture initial snapshot: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	notifications := s.subscribe(loopCtx)

	// Drop a refresh requested while stopped; the initial capture covers it.
	select {
	case <-s.refresh:
	default:
	}

	// A change between the capture and the subscription raised no notification,
	// so push mode reconciles once right away. Polling catches it on the next tick.
	if notifications != nil {
		select {
		case s.refresh <- struct{}{}:
		default:
		}
	}

	s.last = initial
	s.cancel = cancel
	s.done = make(chan struct{})
	s.observing.Store(true)

	go s.loop(loopCtx, notifications, s.done)

	logger.InfoKV(ctx, "Observation started", "alarms", initial.Len(), "push", notifications != nil)

	return nil
}

// Stop ends the observation loop and forgets the last snapshot.
// It is idempotent, safe to call from listener callbacks, and no tick runs
// after it returns. It must not be called from inside Source methods.
func (s *Session) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.observing.Load() {
		return
	}

	s.cancel()
	<-s.done

	s.last = domain.Snapshot{}
	s.cancel = nil
	s.done = nil
	s.observing.Store(false)
}

// IsObserving reports whether the loop is running.
func (s *Session) IsObserving() bool {
	return s.observing.Load()
}

// Refresh asks the loop for an extra tick. Requests made while a tick is
// pending are coalesced.
func (s *Session) Refresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// AddListener subscribes handler to one event kind.
func (s *Session) AddListener(kind bus.Kind, handler bus.Handler) (bus.Handle, error) {
	return s.broker.Subscribe(handler, kind)
}

// RemoveListener cancels a subscription made with AddListener.
func (s *Session) RemoveListener(handle bus.Handle) {
	s.broker.Unsubscribe(handle)
}

// Alarms reads the source directly and returns its alarms ordered by id.
func (s *Session) Alarms(ctx context.Context) ([]domain.Alarm, error) {
	snapshot, err := s.capture(ctx)
	if err != nil {
		return nil, err
	}

	return snapshot.Alarms(), nil
}

// subscribe registers for push notifications; nil means polling.
func (s *Session) subscribe(ctx context.Context) <-chan struct{} {
	if s.forcePolling {
		return nil
	}

	watcher, ok := s.source.(Watcher)
	if !ok {
		logger.DebugKV(ctx, "Source has no change notifications, polling", "interval", s.pollInterval.String())
		return nil
	}

	notifications, err := watcher.Watch(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Change subscription failed, polling", "error", err, "interval", s.pollInterval.String())
		return nil
	}

	return notifications
}

// loop serializes ticks until ctx is canceled.
func (s *Session) loop(ctx context.Context, notifications <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var (
		ticker *time.Ticker
		ticks  <-chan time.Time
	)

	startPolling := func() {
		ticker = time.NewTicker(s.pollInterval)
		ticks = ticker.C
	}

	if notifications == nil {
		startPolling()
	}

	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			s.tick(ctx)
		case <-s.refresh:
			s.tick(ctx)
		case _, ok := <-notifications:
			if !ok {
				logger.WarnKV(ctx, "Change subscription closed, polling", "interval", s.pollInterval.String())

				notifications = nil

				startPolling()

				continue
			}

			s.tick(ctx)
		}
	}
}

// tick runs one observation cycle and reports failures instead of returning them.
func (s *Session) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	current, err := s.capture(ctx)
	if err != nil {
		s.reporter.Report(ctx, fmt.Errorf("skip tick: %w", err))
		return
	}

	if err = s.onTick(ctx, current); err != nil {
		s.reporter.Report(ctx, err)
	}
}

// onTick publishes the diff against the last snapshot, then adopts current.
// On publish failure last stays as it was, so the next tick repeats the diff.
func (s *Session) onTick(ctx context.Context, current domain.Snapshot) error {
	changes := domain.Diff(s.last, current)

	if err := s.broker.Publish(ctx, changes); err != nil {
		return fmt.Errorf("publish %d changes: %w", len(changes), err)
	}

	s.last = current

	return nil
}

// capture reads the source and validates the snapshot.
func (s *Session) capture(ctx context.Context) (domain.Snapshot, error) {
	callCtx, cancel := s.sourceContext(ctx)
	defer cancel()

	alarms, err := s.source.CurrentAlarms(callCtx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}

	snapshot, err := domain.NewSnapshot(alarms...)
	if err != nil {
		return domain.Snapshot{}, err
	}

	return snapshot, nil
}

// sourceContext applies the source timeout when configured.
func (s *Session) sourceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.sourceTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, s.sourceTimeout)
}
