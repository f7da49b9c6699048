package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/oshokin/alarm-bridge/internal/api/wire"
	"github.com/oshokin/alarm-bridge/internal/bus"
)

const (
	// disconnectQuiesce is how long Close lets in-flight messages finish, in milliseconds.
	disconnectQuiesce = 250
	// defaultTimeout applies when MQTTOptions.Timeout is not set.
	defaultTimeout = 5 * time.Second
)

// errTimeout is returned when the broker does not acknowledge in time.
var errTimeout = errors.New("mqtt broker did not acknowledge in time")

// MQTTOptions configures ConnectMQTT.
type MQTTOptions struct {
	// Broker is the broker URL.
	Broker string
	// ClientID identifies the relay.
	ClientID string
	// Username is optional.
	Username string
	// Password is optional.
	Password string
	// TopicPrefix is prepended to the event kind.
	TopicPrefix string
	// QoS is the delivery guarantee requested from the broker.
	QoS byte
	// Timeout bounds connect and publish acknowledgements.
	Timeout time.Duration
}

// MQTT publishes every event to "<prefix>/<kind>".
type MQTT struct {
	// client is the broker connection.
	client mqtt.Client
	// prefix is the topic prefix.
	prefix string
	// qos is the publish QoS.
	qos byte
	// timeout bounds one publish acknowledgement.
	timeout time.Duration
}

// ConnectMQTT connects to the broker and returns a relay.
func ConnectMQTT(opts MQTTOptions) (*MQTT, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	clientOptions := mqtt.NewClientOptions()
	clientOptions.AddBroker(opts.Broker)
	clientOptions.SetClientID(opts.ClientID)

	if opts.Username != "" {
		clientOptions.SetUsername(opts.Username)
	}

	if opts.Password != "" {
		clientOptions.SetPassword(opts.Password)
	}

	clientOptions.SetAutoReconnect(true)
	clientOptions.SetCleanSession(true)
	clientOptions.SetConnectTimeout(opts.Timeout)

	client := mqtt.NewClient(clientOptions)

	token := client.Connect()
	if !token.WaitTimeout(opts.Timeout) {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", opts.Broker, errTimeout)
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", opts.Broker, err)
	}

	return NewMQTT(client, opts.TopicPrefix, opts.QoS, opts.Timeout), nil
}

// NewMQTT wraps an already connected client.
func NewMQTT(client mqtt.Client, prefix string, qos byte, timeout time.Duration) *MQTT {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &MQTT{
		client:  client,
		prefix:  prefix,
		qos:     qos,
		timeout: timeout,
	}
}

// Topic returns the topic events of kind are published to.
func (m *MQTT) Topic(kind bus.Kind) string {
	return m.prefix + "/" + string(kind)
}

// Handle implements bus.Handler.
func (m *MQTT) Handle(ctx context.Context, evt bus.Event) error {
	payload, err := wire.MarshalEvent(evt)
	if err != nil {
		return err
	}

	topic := m.Topic(evt.Kind)
	token := m.client.Publish(topic, m.qos, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.timeout):
		return fmt.Errorf("publish event %d to %s: %w", evt.Sequence, topic, errTimeout)
	}

	if err = token.Error(); err != nil {
		return fmt.Errorf("publish event %d to %s: %w", evt.Sequence, topic, err)
	}

	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.client.Disconnect(disconnectQuiesce)

	return nil
}
