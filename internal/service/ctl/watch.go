package ctl

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/oshokin/alarm-bridge/internal/bus"
	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
	"github.com/oshokin/alarm-bridge/internal/service/common"
	"github.com/oshokin/alarm-bridge/internal/service/presenter"
)

// defaultRetryInterval defines the delay before reconnecting a lost stream.
const defaultRetryInterval = time.Second

// WatchOptions configures Watch.
type WatchOptions struct {
	// Kinds filters the stream; empty means every kind.
	Kinds []bus.Kind
	// OnFire is run through the shell for every alarmFired event when set.
	OnFire string
	// RetryInterval is the pause before reconnecting.
	RetryInterval time.Duration
}

// Watch prints events until ctx is canceled, reconnecting whenever the stream
// breaks.
func Watch(ctx context.Context, client *common.Client, out io.Writer, opts WatchOptions) error {
	ctx = logger.WithName(ctx, "watch")

	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}

	for {
		err := watchOnce(ctx, client, out, opts)
		if ctx.Err() != nil {
			return nil
		}

		logger.WarnKV(ctx, "Event stream lost, reconnecting", "error", err, "retry_in", opts.RetryInterval)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(opts.RetryInterval):
		}
	}
}

// watchOnce follows one stream until it fails.
func watchOnce(ctx context.Context, client *common.Client, out io.Writer, opts WatchOptions) error {
	stream, err := client.Subscribe(ctx, opts.Kinds...)
	if err != nil {
		return err
	}

	defer stream.Close()

	logger.InfoKV(ctx, "Watching alarm events", "kinds", opts.Kinds)

	var last uint64

	for {
		evt, err := stream.Recv()
		if err != nil {
			return err
		}

		// At-least-once delivery: drop anything already printed on this stream.
		if evt.Sequence != 0 && evt.Sequence <= last {
			continue
		}

		last = evt.Sequence

		if _, err = fmt.Fprintln(out, FormatEvent(evt)); err != nil {
			return err
		}

		if evt.Kind != bus.KindFired || opts.OnFire == "" {
			continue
		}

		changed, ok := evt.Change.(domain.StateChanged)
		if !ok {
			continue
		}

		if err = presenter.Present(ctx, opts.OnFire, changed.ID, changed.NewState.String()); err != nil {
			logger.ErrorKV(ctx, "Fire command failed", "id", changed.ID, "error", err)
		}
	}
}

// FormatEvent renders an event on one line.
func FormatEvent(evt bus.Event) string {
	prefix := fmt.Sprintf("#%d %s %s", evt.Sequence, evt.Timestamp.Local().Format(time.RFC3339), evt.Kind)

	switch c := evt.Change.(type) {
	case domain.Added:
		return fmt.Sprintf("%s %s %s fire=%s", prefix, c.Alarm.ID, c.Alarm.State, formatFireDate(c.Alarm.FireDate))
	case domain.Removed:
		return fmt.Sprintf("%s %s last=%s", prefix, c.ID, c.LastState)
	case domain.StateChanged:
		return fmt.Sprintf("%s %s %s -> %s", prefix, c.ID, c.PreviousState, c.NewState)
	case domain.ListChanged:
		return fmt.Sprintf("%s total=%d scheduled=%d", prefix, c.TotalCount, c.ScheduledCount)
	default:
		return prefix
	}
}
