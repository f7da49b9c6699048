package observer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/oshokin/alarm-bridge/internal/bus"
	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/logger"
	"github.com/oshokin/alarm-bridge/internal/relay"
)

// relayHandle is a relay attached to the bus.
type relayHandle struct {
	// name identifies the relay in logs.
	name string
	// handler receives events.
	handler bus.Handler
	// kinds filters events; empty means all.
	kinds []bus.Kind
	// close releases the relay connection.
	close func() error
}

// openRelays connects the configured relays. On error every relay opened so
// far is closed.
func openRelays(ctx context.Context, settings config.Relays, timeout time.Duration) ([]relayHandle, error) {
	var handles []relayHandle

	if stream := settings.RedisStream; stream != nil {
		client := redis.NewClient(&redis.Options{
			Addr:     stream.Redis.Addr,
			Password: stream.Redis.Password,
			DB:       stream.Redis.DB,
		})

		r := relay.NewRedisStream(client, stream.Stream, stream.MaxLen)
		handles = append(handles, relayHandle{
			name:    "redis_stream",
			handler: r.Handle,
			kinds:   config.ParseKinds(stream.Kinds),
			close:   r.Close,
		})

		logger.InfoKV(ctx, "Redis stream relay configured", "addr", stream.Redis.Addr, "stream", stream.Stream)
	}

	if m := settings.MQTT; m != nil {
		r, err := relay.ConnectMQTT(relay.MQTTOptions{
			Broker:      m.Broker,
			ClientID:    m.ClientID,
			Username:    m.Username,
			Password:    m.Password,
			TopicPrefix: m.TopicPrefix,
			QoS:         m.QoS,
			Timeout:     timeout,
		})
		if err != nil {
			closeRelays(ctx, handles)
			return nil, fmt.Errorf("mqtt relay: %w", err)
		}

		handles = append(handles, relayHandle{
			name:    "mqtt",
			handler: r.Handle,
			kinds:   config.ParseKinds(m.Kinds),
			close:   r.Close,
		})

		logger.InfoKV(ctx, "MQTT relay connected", "broker", m.Broker, "topic_prefix", m.TopicPrefix)
	}

	return handles, nil
}

// closeRelays releases every relay, logging failures.
func closeRelays(ctx context.Context, handles []relayHandle) {
	for _, h := range handles {
		if err := h.close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			logger.WarnKV(ctx, "Failed to close relay", "relay", h.name, "error", err)
		}
	}
}
