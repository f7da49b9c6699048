package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
)

var (
	// ErrClosed is returned by Publish and Subscribe after Close or Shutdown.
	ErrClosed = errors.New("event bus closed")
	// ErrUnknownKind is returned by ParseKind.
	ErrUnknownKind = errors.New("unknown event kind")
	// errHandlerRequired is returned when Subscribe is called with a nil handler.
	errHandlerRequired = errors.New("handler must be provided")
)

// Bus fans published changes out to subscribers.
type Bus struct {
	// ctx carries the logger and bounds the lifetime of all workers.
	ctx context.Context
	// cancel stops all workers on Close.
	cancel context.CancelFunc
	// reporter receives deliveries that exhausted their attempts.
	reporter logger.Reporter
	// now stamps published events.
	now func() time.Time

	// maxAttempts bounds delivery attempts per event.
	maxAttempts int
	// retryBackoff is the pause between attempts.
	retryBackoff time.Duration
	// pendingWarning is the mailbox size that triggers a warning.
	pendingWarning int

	// mu guards subscribers, sequence, draining and closed.
	mu sync.Mutex
	// subscribers holds the active subscriptions.
	subscribers map[Handle]*subscriber
	// sequence is the last assigned event sequence.
	sequence uint64
	// draining is set by Shutdown while mailboxes empty.
	draining bool
	// closed is set by Close.
	closed bool

	// workers tracks subscriber goroutines.
	workers sync.WaitGroup
}

// New creates a bus whose workers log through the logger stored in ctx.
func New(ctx context.Context, opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(logger.WithName(ctx, "bus"))

	b := &Bus{
		ctx:            ctx,
		cancel:         cancel,
		reporter:       logger.LogReporter{},
		now:            time.Now,
		maxAttempts:    DefaultMaxAttempts,
		retryBackoff:   DefaultRetryBackoff,
		pendingWarning: DefaultPendingWarning,
		subscribers:    make(map[Handle]*subscriber),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscribe registers handler for the given kinds, or for every kind when none are given.
// Events published after Subscribe returns are delivered in publish order.
func (b *Bus) Subscribe(handler Handler, kinds ...Kind) (Handle, error) {
	if handler == nil {
		return "", errHandlerRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.draining {
		return "", ErrClosed
	}

	handle := Handle(uuid.NewString())
	sub := newSubscriber(b.ctx, handle, handler, kinds)
	b.subscribers[handle] = sub

	b.workers.Add(1)

	go func() {
		defer b.workers.Done()

		sub.run(b)
	}()

	logger.DebugKV(b.ctx, "Subscriber added", "handle", handle, "kinds", kinds)

	return handle, nil
}

// Unsubscribe removes a subscription. It is idempotent and may be called from
// inside a handler. Pending events of the subscription are discarded; a delivery
// already in flight is allowed to finish.
func (b *Bus) Unsubscribe(handle Handle) {
	b.mu.Lock()
	sub, ok := b.subscribers[handle]
	delete(b.subscribers, handle)
	b.mu.Unlock()

	if !ok {
		return
	}

	sub.stop()
	logger.DebugKV(b.ctx, "Subscriber removed", "handle", handle)
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subscribers)
}

// Publish stamps changes and enqueues them on every matching subscriber.
// A StateChanged into the running state is followed by an extra KindFired event.
// The batch is enqueued atomically, so either all subscribers see it or, on
// error, none do. Publish never waits for handlers.
func (b *Bus) Publish(ctx context.Context, changes []domain.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.draining {
		return ErrClosed
	}

	timestamp := b.now()
	events := make([]Event, 0, len(changes)+1)

	for _, change := range changes {
		kind := KindOf(change)
		if kind == "" {
			continue
		}

		b.sequence++
		events = append(events, Event{Sequence: b.sequence, Kind: kind, Timestamp: timestamp, Change: change})

		if stateChanged, ok := change.(domain.StateChanged); ok && stateChanged.Fired() {
			b.sequence++
			events = append(events, Event{Sequence: b.sequence, Kind: KindFired, Timestamp: timestamp, Change: change})
		}
	}

	for _, sub := range b.subscribers {
		pendingBefore, pendingAfter := sub.enqueue(events)
		if pendingBefore < b.pendingWarning && pendingAfter >= b.pendingWarning {
			logger.WarnKV(b.ctx, "Subscriber is falling behind", "handle", sub.handle, "pending", pendingAfter)
		}
	}

	return nil
}

// drainPollInterval is how often Shutdown checks the mailboxes.
const drainPollInterval = 10 * time.Millisecond

// Shutdown stops accepting events, waits until every subscriber has handled
// its mailbox, then closes the bus. When ctx ends first the remaining events
// are dropped and ctx.Err() is returned.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}

	b.draining = true
	subscribers := make([]*subscriber, 0, len(b.subscribers))

	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.Unlock()

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	var err error

wait:
	for pending(subscribers) {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			logger.WarnKV(b.ctx, "Dropping undelivered events on shutdown", "error", err)

			break wait
		case <-ticker.C:
		}
	}

	_ = b.Close()

	return err
}

// pending reports whether any subscriber still has events to handle.
func pending(subscribers []*subscriber) bool {
	for _, sub := range subscribers {
		if sub.pending() {
			return true
		}
	}

	return false
}

// Close stops every subscriber and waits for in-flight deliveries to return.
// It must not be called from inside a handler.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}

	b.closed = true
	subscribers := b.subscribers
	b.subscribers = make(map[Handle]*subscriber)
	b.mu.Unlock()

	for _, sub := range subscribers {
		sub.stop()
	}

	b.cancel()
	b.workers.Wait()

	return nil
}
