package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
)

// subscriber is one registration with its own mailbox and worker.
type subscriber struct {
	// handle identifies the subscription.
	handle Handle
	// kinds filters events; nil accepts every kind.
	kinds map[Kind]struct{}
	// handler consumes events.
	handler Handler

	// ctx is canceled when the subscription stops.
	ctx context.Context
	// cancel stops the subscription.
	cancel context.CancelFunc

	// mu guards queue and busy.
	mu sync.Mutex
	// queue holds events not yet delivered.
	queue []Event
	// busy is set while a popped event is being delivered.
	busy bool
	// wake signals the worker that queue is not empty.
	wake chan struct{}
}

// newSubscriber prepares a subscription bound to parent.
func newSubscriber(parent context.Context, handle Handle, handler Handler, kinds []Kind) *subscriber {
	ctx, cancel := context.WithCancel(logger.WithKV(parent, "handle", handle))

	sub := &subscriber{
		handle:  handle,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
	}

	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	return sub
}

// accepts reports whether the subscriber listens to kind.
func (s *subscriber) accepts(kind Kind) bool {
	if s.kinds == nil {
		return true
	}

	_, ok := s.kinds[kind]

	return ok
}

// enqueue appends the matching events and wakes the worker.
// It returns the mailbox size before and after.
func (s *subscriber) enqueue(events []Event) (int, int) {
	s.mu.Lock()
	before := len(s.queue)

	for _, evt := range events {
		if s.accepts(evt.Kind) {
			s.queue = append(s.queue, evt)
		}
	}

	after := len(s.queue)
	s.mu.Unlock()

	if after > before {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}

	return before, after
}

// next pops the oldest event. The subscriber counts as busy until the
// following call finds the mailbox empty.
func (s *subscriber) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 || s.ctx.Err() != nil {
		s.busy = false
		return Event{}, false
	}

	evt := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	s.busy = true

	return evt, true
}

// pending reports whether events are queued or being delivered.
func (s *subscriber) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ctx.Err() == nil && (len(s.queue) > 0 || s.busy)
}

// stop cancels the subscription and drops pending events.
func (s *subscriber) stop() {
	s.cancel()

	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
}

// run drains the mailbox until the subscription stops.
func (s *subscriber) run(b *Bus) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		for {
			evt, ok := s.next()
			if !ok {
				break
			}

			s.deliver(b, evt)
		}
	}
}

// deliver hands evt to the handler, retrying failures up to the bus limit.
func (s *subscriber) deliver(b *Bus, evt Event) {
	for attempt := 1; ; attempt++ {
		err := s.call(evt)
		if err == nil {
			return
		}

		if s.ctx.Err() != nil {
			return
		}

		failure := fmt.Errorf(
			"%w: kind %s, sequence %d, attempt %d/%d: %w",
			domain.ErrSubscriberFailure, evt.Kind, evt.Sequence, attempt, b.maxAttempts, err,
		)

		if attempt >= b.maxAttempts {
			b.reporter.Report(s.ctx, failure)
			return
		}

		logger.WarnKV(s.ctx, "Delivery failed, retrying", "error", failure, "backoff", b.retryBackoff.String())

		if !s.sleep(b.retryBackoff) {
			return
		}
	}
}

// call invokes the handler and turns a panic into an error.
func (s *subscriber) call(evt Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panicked: %v", recovered)
		}
	}()

	return s.handler(s.ctx, evt)
}

// sleep waits for d or until the subscription stops. It reports whether d elapsed.
func (s *subscriber) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
