package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-bridge/internal/api/wire"
	"github.com/oshokin/alarm-bridge/internal/bus"
)

var errTestBroker = errors.New("broker rejected message")

// fakeToken is a completed or pending mqtt.Token.
type fakeToken struct {
	// done is closed when the token completes.
	done chan struct{}
	// err is returned by Error.
	err error
}

// newFakeToken returns a token that is already complete with err.
func newFakeToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)

	return &fakeToken{done: done, err: err}
}

func (f *fakeToken) Wait() bool {
	<-f.done
	return true
}

func (f *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-f.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (f *fakeToken) Done() <-chan struct{} { return f.done }

func (f *fakeToken) Error() error { return f.err }

// published is one recorded Publish call.
type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient records publishes; unused mqtt.Client methods panic through the nil embed.
type fakeClient struct {
	mqtt.Client

	// mu guards every field below.
	mu sync.Mutex
	// messages lists publishes in order.
	messages []published
	// token is returned by Publish; nil means success.
	token mqtt.Token
	// disconnected is set by Disconnect.
	disconnected bool
}

func (f *fakeClient) Publish(topic string, qos byte, _ bool, payload any) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, _ := payload.([]byte)
	f.messages = append(f.messages, published{topic: topic, qos: qos, payload: data})

	if f.token != nil {
		return f.token
	}

	return newFakeToken(nil)
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.disconnected = true
}

// TestMQTT_Handle verifies events are published under "<prefix>/<kind>".
func TestMQTT_Handle(t *testing.T) {
	t.Parallel()

	client := new(fakeClient)
	relay := NewMQTT(client, "home/alarms", 1, time.Second)

	require.NoError(t, relay.Handle(context.Background(), testEvent(7)))
	require.NoError(t, relay.Close())

	require.Len(t, client.messages, 1)
	require.Equal(t, "home/alarms/alarmFired", client.messages[0].topic)
	require.Equal(t, byte(1), client.messages[0].qos)
	require.True(t, client.disconnected)

	evt, err := wire.UnmarshalEvent(client.messages[0].payload)
	require.NoError(t, err)
	require.Equal(t, uint64(7), evt.Sequence)
	require.Equal(t, bus.KindFired, evt.Kind)
}

// TestMQTT_HandleErrors verifies broker errors and missing acknowledgements fail the delivery.
func TestMQTT_HandleErrors(t *testing.T) {
	t.Parallel()

	client := &fakeClient{token: newFakeToken(errTestBroker)}
	relay := NewMQTT(client, "alarms", 0, time.Second)

	err := relay.Handle(context.Background(), testEvent(1))
	require.ErrorIs(t, err, errTestBroker)

	client = &fakeClient{token: &fakeToken{done: make(chan struct{})}}
	relay = NewMQTT(client, "alarms", 0, 20*time.Millisecond)

	err = relay.Handle(context.Background(), testEvent(1))
	require.ErrorIs(t, err, errTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	relay = NewMQTT(client, "alarms", 0, time.Minute)

	err = relay.Handle(ctx, testEvent(1))
	require.ErrorIs(t, err, context.Canceled)
}
