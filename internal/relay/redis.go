package relay

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/oshokin/alarm-bridge/internal/api/wire"
	"github.com/oshokin/alarm-bridge/internal/bus"
)

// Stream entry fields.
const (
	FieldKind     = "kind"
	FieldSequence = "sequence"
	FieldEvent    = "event"
)

// RedisStream appends events to a Redis stream.
type RedisStream struct {
	// client is the connection pool.
	client *redis.Client
	// stream is the stream name.
	stream string
	// maxLen trims the stream approximately; zero disables trimming.
	maxLen int64
}

// NewRedisStream creates a relay writing to stream.
func NewRedisStream(client *redis.Client, stream string, maxLen int64) *RedisStream {
	return &RedisStream{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Handle implements bus.Handler.
func (r *RedisStream) Handle(ctx context.Context, evt bus.Event) error {
	payload, err := wire.MarshalEvent(evt)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			FieldKind:     string(evt.Kind),
			FieldSequence: strconv.FormatUint(evt.Sequence, 10),
			FieldEvent:    string(payload),
		},
	}

	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	if err = r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("append event %d to %s: %w", evt.Sequence, r.stream, err)
	}

	return nil
}

// Close releases the connection pool.
func (r *RedisStream) Close() error {
	return r.client.Close()
}
