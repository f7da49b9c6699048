package alarms

import (
	"context"
	"sync"
)

// notifier fans "alarms may have changed" signals out to watchers.
// Each watcher channel holds at most one pending signal.
type notifier struct {
	// mu guards watchers.
	mu sync.Mutex
	// watchers holds one channel per active Watch call.
	watchers map[chan struct{}]struct{}
}

// subscribe returns a channel that is closed when ctx ends.
func (n *notifier) subscribe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.watchers == nil {
		n.watchers = make(map[chan struct{}]struct{})
	}

	n.watchers[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()

		n.mu.Lock()
		delete(n.watchers, ch)
		close(ch)
		n.mu.Unlock()
	}()

	return ch
}

// notify signals every watcher without blocking.
func (n *notifier) notify() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
