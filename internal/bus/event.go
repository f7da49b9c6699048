package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// Kind names an event stream that listeners can subscribe to.
type Kind string

const (
	// KindAdded carries domain.Added.
	KindAdded Kind = "alarmAdded"
	// KindRemoved carries domain.Removed.
	KindRemoved Kind = "alarmRemoved"
	// KindStateChanged carries domain.StateChanged.
	KindStateChanged Kind = "alarmStateChanged"
	// KindListChanged carries domain.ListChanged.
	KindListChanged Kind = "alarmListChanged"
	// KindFired carries the domain.StateChanged that moved an alarm into running.
	KindFired Kind = "alarmFired"
)

// Kinds returns every event kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindAdded, KindRemoved, KindStateChanged, KindListChanged, KindFired}
}

// ParseKind validates an event kind name.
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(s)
	for _, k := range Kinds() {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// KindOf returns the primary kind for a change, or "" for unknown values.
func KindOf(change domain.Change) Kind {
	switch change.(type) {
	case domain.Added:
		return KindAdded
	case domain.Removed:
		return KindRemoved
	case domain.StateChanged:
		return KindStateChanged
	case domain.ListChanged:
		return KindListChanged
	default:
		return ""
	}
}

// Event is a change stamped by the bus at publish time.
type Event struct {
	// Sequence increases by one for every event published on the bus.
	// Subscribers can use it to drop redeliveries.
	Sequence uint64
	// Kind is the stream the event belongs to.
	Kind Kind
	// Timestamp is the publish instant; the authority does not expose change times.
	Timestamp time.Time
	// Change is the underlying domain change.
	Change domain.Change
}

// Handler consumes one event. A returned error or a panic triggers redelivery.
type Handler func(ctx context.Context, evt Event) error

// Handle identifies a subscription.
type Handle string
