package alarms

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"

	"github.com/oshokin/alarm-bridge/internal/api/wire"
	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
)

const (
	// DefaultRedisKey is the hash holding one JSON alarm per field.
	DefaultRedisKey = "alarm-bridge:alarms"
	// DefaultRedisChannel is the pub/sub channel announcing registry changes.
	DefaultRedisChannel = "alarm-bridge:alarms:changed"
)

// Redis keeps the registry in a Redis hash keyed by alarm id. Writers
// publish on a channel after every change so observers can react at once.
type Redis struct {
	// client is the shared connection pool.
	client *redis.Client
	// key is the hash name.
	key string
	// channel is the change notification channel.
	channel string
}

// NewRedis creates a registry. Empty key or channel fall back to defaults.
func NewRedis(client *redis.Client, key, channel string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}

	if channel == "" {
		channel = DefaultRedisChannel
	}

	return &Redis{
		client:  client,
		key:     key,
		channel: channel,
	}
}

// CurrentAlarms reads the whole hash.
func (r *Redis) CurrentAlarms(ctx context.Context) ([]domain.Alarm, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read alarm hash: %w", err)
	}

	result := make([]domain.Alarm, 0, len(fields))

	for field, value := range fields {
		a, err := wire.UnmarshalAlarm([]byte(value))
		if err != nil {
			return nil, fmt.Errorf("decode alarm %q: %w", field, err)
		}

		result = append(result, a)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

// Put stores a and announces the change.
func (r *Redis) Put(ctx context.Context, a domain.Alarm) error {
	data, err := wire.MarshalAlarm(a)
	if err != nil {
		return err
	}

	if err = r.client.HSet(ctx, r.key, a.ID, data).Err(); err != nil {
		return fmt.Errorf("store alarm %q: %w", a.ID, err)
	}

	return r.announce(ctx)
}

// Delete removes an alarm and announces the change.
func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.client.HDel(ctx, r.key, id).Err(); err != nil {
		return fmt.Errorf("delete alarm %q: %w", id, err)
	}

	return r.announce(ctx)
}

// Watch forwards change announcements until ctx ends.
func (r *Redis) Watch(ctx context.Context) (<-chan struct{}, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}

	out := make(chan struct{}, 1)
	messages := pubsub.Channel()

	go func() {
		defer close(out)

		defer func() {
			_ = pubsub.Close()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					logger.Warn(ctx, "Redis alarm channel closed")
					return
				}

				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out, nil
}

// announce publishes a change notification.
func (r *Redis) announce(ctx context.Context) error {
	if err := r.client.Publish(ctx, r.channel, r.key).Err(); err != nil {
		return fmt.Errorf("announce alarm change: %w", err)
	}

	return nil
}
