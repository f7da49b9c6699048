//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/alarm-bridge/internal/api/grpc/bridge"
	"github.com/oshokin/alarm-bridge/internal/api/wire"
	"github.com/oshokin/alarm-bridge/internal/config"
	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// Client wraps a connection to the AlarmBridge service with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the observer.
	conn *grpc.ClientConn
	// actor is attached to alarm actions when set.
	actor *Actor
	// dialOptions are appended to the default dial options.
	dialOptions []grpc.DialOption

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for unary calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithActor attaches caller identity to alarm actions.
func WithActor(actor *Actor) Option {
	return func(c *Client) {
		c.actor = actor
	}
}

// WithDialOptions adds gRPC dial options, for example a custom dialer.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errIDRequired is returned when an alarm action has no id.
	errIDRequired = errors.New("alarm id must be provided")
)

// Dial creates a client for the observer at address.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy until native TLS is added.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	client := &Client{
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	dialOptions := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, client.dialOptions...)

	conn, err := grpc.NewClient(address, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial alarm observer: %w", err)
	}

	client.conn = conn

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// StartObserving asks the observer to start its session.
func (c *Client) StartObserving(ctx context.Context) (bool, error) {
	return c.callBool(ctx, bridge.FullMethodStartObserving, "start observing")
}

// StopObserving asks the observer to stop its session.
func (c *Client) StopObserving(ctx context.Context) (bool, error) {
	return c.callBool(ctx, bridge.FullMethodStopObserving, "stop observing")
}

// IsObserving reports whether the observer session is running.
func (c *Client) IsObserving(ctx context.Context) (bool, error) {
	return c.callBool(ctx, bridge.FullMethodIsObserving, "is observing")
}

// ListAlarms returns the alarms currently held by the authority.
func (c *Client) ListAlarms(ctx context.Context) ([]domain.Alarm, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	out := new(structpb.ListValue)
	if err := c.conn.Invoke(callCtx, bridge.FullMethodListAlarms, new(emptypb.Empty), out); err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}

	result := make([]domain.Alarm, 0, len(out.GetValues()))

	for _, v := range out.GetValues() {
		a, err := wire.AlarmFromStruct(v.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("decode alarm: %w", err)
		}

		result = append(result, a)
	}

	return result, nil
}

// ScheduleAt registers an alarm firing at fireDate.
func (c *Client) ScheduleAt(ctx context.Context, fireDate time.Time) (domain.Alarm, error) {
	return c.schedule(ctx, bridge.KeyFireDate, fireDate.UTC().Format(time.RFC3339))
}

// ScheduleIn registers a relative alarm firing after d.
func (c *Client) ScheduleIn(ctx context.Context, d time.Duration) (domain.Alarm, error) {
	return c.schedule(ctx, bridge.KeyCountdown, d.String())
}

// Cancel cancels an alarm that has not started alerting.
func (c *Client) Cancel(ctx context.Context, id string) (domain.Alarm, error) {
	return c.act(ctx, bridge.FullMethodCancelAlarm, "cancel alarm", id)
}

// Stop dismisses an alerting alarm.
func (c *Client) Stop(ctx context.Context, id string) (domain.Alarm, error) {
	return c.act(ctx, bridge.FullMethodStopAlarm, "stop alarm", id)
}

// Snooze snoozes an alerting alarm.
func (c *Client) Snooze(ctx context.Context, id string) (domain.Alarm, error) {
	return c.act(ctx, bridge.FullMethodSnoozeAlarm, "snooze alarm", id)
}

// Pause holds a scheduled alarm.
func (c *Client) Pause(ctx context.Context, id string) (domain.Alarm, error) {
	return c.act(ctx, bridge.FullMethodPauseAlarm, "pause alarm", id)
}

// Resume reactivates a paused alarm.
func (c *Client) Resume(ctx context.Context, id string) (domain.Alarm, error) {
	return c.act(ctx, bridge.FullMethodResumeAlarm, "resume alarm", id)
}

// callBool invokes a method that takes nothing and returns a flag.
func (c *Client) callBool(ctx context.Context, method, name string) (bool, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	out := new(wrapperspb.BoolValue)
	if err := c.conn.Invoke(callCtx, method, new(emptypb.Empty), out); err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}

	return out.GetValue(), nil
}

// schedule sends a schedule request with one field set.
func (c *Client) schedule(ctx context.Context, key, value string) (domain.Alarm, error) {
	callCtx, cancel := c.callContext(c.actor.outgoingContext(ctx))
	defer cancel()

	req := &structpb.Struct{Fields: map[string]*structpb.Value{key: structpb.NewStringValue(value)}}
	out := new(structpb.Struct)

	if err := c.conn.Invoke(callCtx, bridge.FullMethodScheduleAlarm, req, out); err != nil {
		return domain.Alarm{}, fmt.Errorf("schedule alarm: %w", err)
	}

	return wire.AlarmFromStruct(out)
}

// act sends an id-based alarm action.
func (c *Client) act(ctx context.Context, method, name, id string) (domain.Alarm, error) {
	if id == "" {
		return domain.Alarm{}, errIDRequired
	}

	callCtx, cancel := c.callContext(c.actor.outgoingContext(ctx))
	defer cancel()

	out := new(structpb.Struct)
	if err := c.conn.Invoke(callCtx, method, wrapperspb.String(id), out); err != nil {
		return domain.Alarm{}, fmt.Errorf("%s: %w", name, err)
	}

	return wire.AlarmFromStruct(out)
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
