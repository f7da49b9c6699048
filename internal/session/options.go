package session

import (
	"time"

	"github.com/oshokin/alarm-bridge/internal/logger"
)

const (
	// DefaultPollInterval is used when the source cannot push change notifications.
	DefaultPollInterval = 5 * time.Second
	// DefaultSourceTimeout bounds a single read from the source.
	DefaultSourceTimeout = 5 * time.Second
)

// Option configures a Session.
type Option func(*Session)

// WithPollInterval sets the polling period.
func WithPollInterval(interval time.Duration) Option {
	return func(s *Session) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithForcePolling ignores push notifications even when the source offers them.
func WithForcePolling(force bool) Option {
	return func(s *Session) {
		s.forcePolling = force
	}
}

// WithSourceTimeout bounds each source read. Zero disables the bound.
func WithSourceTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		if timeout >= 0 {
			s.sourceTimeout = timeout
		}
	}
}

// WithReporter sets the collaborator notified about skipped ticks.
func WithReporter(reporter logger.Reporter) Option {
	return func(s *Session) {
		if reporter != nil {
			s.reporter = reporter
		}
	}
}
