package bus

import (
	"time"

	"github.com/oshokin/alarm-bridge/internal/logger"
)

const (
	// DefaultMaxAttempts is the number of delivery attempts per event and subscriber.
	DefaultMaxAttempts = 3
	// DefaultRetryBackoff is the pause between delivery attempts.
	DefaultRetryBackoff = 200 * time.Millisecond
	// DefaultPendingWarning is the mailbox size that triggers a slow-subscriber warning.
	DefaultPendingWarning = 1024
)

// Option configures the bus.
type Option func(*Bus)

// WithMaxAttempts bounds redelivery of a failing event. Values below one are ignored.
// Delivery is at-least-once only within this bound: once every attempt has
// failed the event is handed to the reporter as ErrSubscriberFailure and the
// subscriber moves on to the next one.
func WithMaxAttempts(attempts int) Option {
	return func(b *Bus) {
		if attempts > 0 {
			b.maxAttempts = attempts
		}
	}
}

// WithRetryBackoff sets the pause between attempts.
func WithRetryBackoff(backoff time.Duration) Option {
	return func(b *Bus) {
		if backoff >= 0 {
			b.retryBackoff = backoff
		}
	}
}

// WithPendingWarning sets the mailbox size at which a warning is logged.
func WithPendingWarning(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.pendingWarning = size
		}
	}
}

// WithReporter sets the collaborator that receives exhausted deliveries.
func WithReporter(reporter logger.Reporter) Option {
	return func(b *Bus) {
		if reporter != nil {
			b.reporter = reporter
		}
	}
}

// WithClock overrides the publish timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}
