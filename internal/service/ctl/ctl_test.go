package ctl

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/oshokin/alarm-bridge/internal/api/grpc/bridge"
	"github.com/oshokin/alarm-bridge/internal/bus"
	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/repository/alarms"
	"github.com/oshokin/alarm-bridge/internal/service/common"
	"github.com/oshokin/alarm-bridge/internal/session"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

// connect serves a bridge over bufconn and returns a client for it.
func connect(t *testing.T) (*common.Client, *alarms.Memory) {
	t.Helper()

	ctx := context.Background()
	ids := 0
	authority := alarms.NewMemory(alarms.WithIDGenerator(func() string {
		ids++
		return fmt.Sprintf("alarm-%d", ids)
	}))
	events := bus.New(ctx)

	sess, err := session.New(authority, events)
	require.NoError(t, err)

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	bridge.Register(server, bridge.NewServer(sess, events, authority))

	go func() {
		_ = server.Serve(listener)
	}()

	client, err := common.Dial(ctx, "passthrough:///bufnet",
		common.WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		})),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		sess.Stop()
		server.Stop()
		_ = events.Close()
	})

	return client, authority
}

// TestObservingCommands verifies status, start and stop output.
func TestObservingCommands(t *testing.T) {
	t.Parallel()

	client, _ := connect(t)
	ctx := context.Background()

	var out bytes.Buffer

	require.NoError(t, Status(ctx, client, &out))
	require.NoError(t, Start(ctx, client, &out))
	require.NoError(t, Status(ctx, client, &out))
	require.NoError(t, Stop(ctx, client, &out))
	require.Equal(t, "stopped\nobserving\nobserving\nstopped\n", out.String())
}

// TestScheduleListAct verifies alarms can be scheduled, listed and acted upon.
func TestScheduleListAct(t *testing.T) {
	t.Parallel()

	client, authority := connect(t)
	ctx := context.Background()

	var out bytes.Buffer

	require.NoError(t, Schedule(ctx, client, &out, "2030-01-01T07:00:00Z"))
	require.NoError(t, Schedule(ctx, client, &out, "90m"))
	require.Error(t, Schedule(ctx, client, &out, "tomorrow"))
	require.Error(t, Schedule(ctx, client, &out, "-5m"))

	out.Reset()
	require.NoError(t, List(ctx, client, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "ID"))
	require.Contains(t, lines[1], "alarm-1")
	require.Contains(t, lines[1], "scheduled")
	require.Contains(t, lines[2], "countdown")
	require.True(t, strings.HasSuffix(lines[2], "-"))

	out.Reset()
	require.NoError(t, Act(ctx, client, &out, ActionPause, "alarm-1"))
	require.NoError(t, Act(ctx, client, &out, ActionResume, "alarm-1"))
	require.NoError(t, Act(ctx, client, &out, ActionCancel, "alarm-2"))

	_, err := authority.Fire(ctx, "alarm-1")
	require.NoError(t, err)

	require.NoError(t, Act(ctx, client, &out, "SNOOZE", "alarm-1"))

	_, err = authority.Fire(ctx, "alarm-1")
	require.NoError(t, err)

	require.NoError(t, Act(ctx, client, &out, ActionDismiss, "alarm-1"))
	require.Equal(t, []string{
		"alarm-1 paused",
		"alarm-1 scheduled",
		"alarm-2 cancelled",
		"alarm-1 countdown",
		"alarm-1 completed",
	}, firstFields(out.String()))

	require.ErrorIs(t, Act(ctx, client, &out, "ring", "alarm-1"), errUnknownAction)
	require.Error(t, Act(ctx, client, &out, ActionDismiss, "alarm-1"))
}

// TestWatch verifies events are printed and the fire command runs.
func TestWatch(t *testing.T) {
	t.Parallel()

	client, authority := connect(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := client.StartObserving(ctx)
	require.NoError(t, err)

	out := new(syncBuffer)
	done := make(chan error, 1)

	go func() {
		done <- Watch(ctx, client, out, WatchOptions{
			Kinds:         []bus.Kind{bus.KindAdded, bus.KindFired},
			RetryInterval: 10 * time.Millisecond,
		})
	}()

	// The stream may not be registered yet, so keep adding alarms until one shows up.
	require.Eventually(t, func() bool {
		if strings.Contains(out.String(), "alarmAdded") {
			return true
		}

		_, _ = authority.Schedule(ctx, time.Now().Add(time.Hour))

		return false
	}, 5*time.Second, 50*time.Millisecond)

	_, err = authority.Fire(ctx, "alarm-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "alarmFired alarm-1 scheduled -> running")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

// TestFormatEvent verifies the one-line rendering of each change.
func TestFormatEvent(t *testing.T) {
	t.Parallel()

	at := time.Date(2030, 1, 1, 7, 0, 0, 0, time.UTC)
	evt := bus.Event{Sequence: 3, Kind: bus.KindRemoved, Timestamp: at}

	evt.Change = domain.Removed{ID: "a", LastState: domain.StatePaused}
	require.True(t, strings.HasSuffix(FormatEvent(evt), "alarmRemoved a last=paused"))

	evt.Kind = bus.KindListChanged
	evt.Change = domain.ListChanged{TotalCount: 4, ScheduledCount: 1}
	require.True(t, strings.HasSuffix(FormatEvent(evt), "alarmListChanged total=4 scheduled=1"))

	evt.Kind = bus.KindAdded
	evt.Change = domain.Added{Alarm: domain.Alarm{ID: "b", State: domain.StateCountdown}}
	require.True(t, strings.HasSuffix(FormatEvent(evt), "alarmAdded b countdown fire=-"))
	require.True(t, strings.HasPrefix(FormatEvent(evt), "#3 "))
}

// firstFields returns the first two words of every line.
func firstFields(s string) []string {
	var result []string

	for line := range strings.SplitSeq(strings.TrimSpace(s), "\n") {
		fields := strings.Fields(line)
		result = append(result, fields[0]+" "+fields[1])
	}

	return result
}
