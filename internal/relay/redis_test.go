package relay

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-bridge/internal/api/wire"
	"github.com/oshokin/alarm-bridge/internal/bus"
	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// testEvent builds a fired event with the given sequence.
func testEvent(sequence uint64) bus.Event {
	return bus.Event{
		Sequence:  sequence,
		Kind:      bus.KindFired,
		Timestamp: time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC),
		Change: domain.StateChanged{
			ID:            "wake",
			PreviousState: domain.StateScheduled,
			NewState:      domain.StateRunning,
		},
	}
}

// TestRedisStream_Handle verifies events are appended with kind, sequence and payload.
func TestRedisStream_Handle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	relay := NewRedisStream(client, "events", 0)

	t.Cleanup(func() {
		_ = relay.Close()
	})

	require.NoError(t, relay.Handle(ctx, testEvent(1)))
	require.NoError(t, relay.Handle(ctx, testEvent(2)))

	entries, err := client.XRange(ctx, "events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, string(bus.KindFired), entries[0].Values[FieldKind])
	require.Equal(t, "2", entries[1].Values[FieldSequence])

	payload, ok := entries[0].Values[FieldEvent].(string)
	require.True(t, ok)

	evt, err := wire.UnmarshalEvent([]byte(payload))
	require.NoError(t, err)
	require.Equal(t, uint64(1), evt.Sequence)
	require.Equal(t, "wake", evt.Change.AlarmID())
}

// TestRedisStream_Trim verifies a bounded stream accepts writes past its length.
func TestRedisStream_Trim(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	relay := NewRedisStream(client, "events", 2)

	t.Cleanup(func() {
		_ = relay.Close()
	})

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, relay.Handle(ctx, testEvent(i)))
	}

	entries, err := client.XRevRangeN(ctx, "events", "+", "-", 1).Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "5", entries[0].Values[FieldSequence])
}

// TestRedisStream_Unavailable verifies a broken connection is reported for retry.
func TestRedisStream_Unavailable(t *testing.T) {
	t.Parallel()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	relay := NewRedisStream(client, "events", 0)

	t.Cleanup(func() {
		_ = relay.Close()
	})

	server.Close()

	require.Error(t, relay.Handle(context.Background(), testEvent(1)))
}
