package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/alarm-bridge/internal/api/wire"
	"github.com/oshokin/alarm-bridge/internal/bus"
	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
)

// Schedule request keys.
const (
	// KeyFireDate holds an RFC 3339 instant for a fixed alarm.
	KeyFireDate = wire.KeyFireDate
	// KeyCountdown holds a Go duration string for a relative alarm.
	KeyCountdown = "countdown"
)

// Metadata keys identifying who issued an alarm action.
const (
	MetadataHostname = "x-alarm-actor-hostname"
	MetadataUsername = "x-alarm-actor-username"
)

// streamBuffer is how many events may wait for a slow stream before the
// subscriber worker blocks.
const streamBuffer = 64

// Observer abstracts the observation session the transport drives.
type Observer interface {
	Start(ctx context.Context) error
	Stop()
	IsObserving() bool
	Alarms(ctx context.Context) ([]domain.Alarm, error)
}

// Subscriber registers event handlers on the bus.
type Subscriber interface {
	Subscribe(handler bus.Handler, kinds ...bus.Kind) (bus.Handle, error)
	Unsubscribe(handle bus.Handle)
}

// Controller is implemented by authorities that accept user actions.
type Controller interface {
	Schedule(ctx context.Context, fireDate time.Time) (domain.Alarm, error)
	StartCountdown(ctx context.Context, d time.Duration) (domain.Alarm, error)
	Cancel(ctx context.Context, id string) (domain.Alarm, error)
	Stop(ctx context.Context, id string) (domain.Alarm, error)
	Snooze(ctx context.Context, id string) (domain.Alarm, error)
	Pause(ctx context.Context, id string) (domain.Alarm, error)
	Resume(ctx context.Context, id string) (domain.Alarm, error)
}

// Server implements Handler on top of a session and its bus.
type Server struct {
	// observer is the session being exposed.
	observer Observer
	// events is where stream subscriptions are registered.
	events Subscriber
	// controller accepts alarm actions; nil when the authority is read-only.
	controller Controller
}

// NewServer wires the transport. controller may be nil.
func NewServer(observer Observer, events Subscriber, controller Controller) *Server {
	return &Server{
		observer:   observer,
		events:     events,
		controller: controller,
	}
}

// StartObserving starts the session; already observing is not an error.
func (s *Server) StartObserving(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	if err := s.observer.Start(ctx); err != nil {
		logger.ErrorKV(ctx, "Failed to start observing", "error", err)

		return nil, toStatus(err)
	}

	return wrapperspb.Bool(s.observer.IsObserving()), nil
}

// StopObserving stops the session; stopping twice is not an error.
func (s *Server) StopObserving(_ context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	s.observer.Stop()

	return wrapperspb.Bool(s.observer.IsObserving()), nil
}

// IsObserving reports the session state.
func (s *Server) IsObserving(_ context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	return wrapperspb.Bool(s.observer.IsObserving()), nil
}

// ListAlarms reads the authority directly.
func (s *Server) ListAlarms(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	alarms, err := s.observer.Alarms(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	values := make([]*structpb.Value, 0, len(alarms))
	for _, a := range alarms {
		values = append(values, structpb.NewStructValue(wire.AlarmToStruct(a)))
	}

	return &structpb.ListValue{Values: values}, nil
}

// ScheduleAlarm registers a fixed alarm (fireDate) or a relative one (countdown).
func (s *Server) ScheduleAlarm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.controller == nil {
		return nil, errReadOnly
	}

	fields := req.GetFields()

	var (
		result domain.Alarm
		err    error
	)

	switch {
	case fields[KeyFireDate].GetStringValue() != "":
		fireDate, parseErr := time.Parse(time.RFC3339, fields[KeyFireDate].GetStringValue())
		if parseErr != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid %s: %v", KeyFireDate, parseErr)
		}

		result, err = s.controller.Schedule(ctx, fireDate)
	case fields[KeyCountdown].GetStringValue() != "":
		d, parseErr := time.ParseDuration(fields[KeyCountdown].GetStringValue())
		if parseErr != nil || d <= 0 {
			return nil, status.Errorf(codes.InvalidArgument, "invalid %s %q", KeyCountdown, fields[KeyCountdown].GetStringValue())
		}

		result, err = s.controller.StartCountdown(ctx, d)
	default:
		return nil, status.Errorf(codes.InvalidArgument, "%s or %s is required", KeyFireDate, KeyCountdown)
	}

	if err != nil {
		return nil, toStatus(err)
	}

	logger.InfoKV(ctx, "Alarm scheduled", "id", result.ID, "state", result.State)

	return wire.AlarmToStruct(result), nil
}

// CancelAlarm cancels an alarm that has not started alerting.
func (s *Server) CancelAlarm(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.act(ctx, "cancel", req, Controller.Cancel)
}

// StopAlarm dismisses an alerting alarm.
func (s *Server) StopAlarm(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.act(ctx, "stop", req, Controller.Stop)
}

// SnoozeAlarm snoozes an alerting alarm.
func (s *Server) SnoozeAlarm(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.act(ctx, "snooze", req, Controller.Snooze)
}

// PauseAlarm holds a scheduled or countdown alarm.
func (s *Server) PauseAlarm(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.act(ctx, "pause", req, Controller.Pause)
}

// ResumeAlarm reactivates a paused alarm.
func (s *Server) ResumeAlarm(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.act(ctx, "resume", req, Controller.Resume)
}

// Subscribe streams bus events of the requested kinds (all kinds when the
// list is empty) until the client goes away. Response headers are sent once
// the subscription is registered.
func (s *Server) Subscribe(req *structpb.ListValue, stream grpc.ServerStream) error {
	ctx := stream.Context()

	kinds, err := parseKinds(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	events := make(chan bus.Event, streamBuffer)

	handle, err := s.events.Subscribe(func(handlerCtx context.Context, evt bus.Event) error {
		select {
		case events <- evt:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-handlerCtx.Done():
			return handlerCtx.Err()
		}
	}, kinds...)
	if err != nil {
		return toStatus(err)
	}

	defer s.events.Unsubscribe(handle)

	logger.InfoKV(ctx, "Event stream opened", "handle", handle, "kinds", kinds)

	if err = stream.SendHeader(metadata.Pairs("subscription", string(handle))); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			logger.InfoKV(ctx, "Event stream closed", "handle", handle)
			return nil
		case evt := <-events:
			msg, err := wire.EventToStruct(evt)
			if err != nil {
				logger.ErrorKV(ctx, "Failed to encode event", "sequence", evt.Sequence, "error", err)
				continue
			}

			if err = stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// act validates the id and runs one controller action.
func (s *Server) act(
	ctx context.Context,
	name string,
	req *wrapperspb.StringValue,
	action func(Controller, context.Context, string) (domain.Alarm, error),
) (*structpb.Struct, error) {
	if s.controller == nil {
		return nil, errReadOnly
	}

	id := req.GetValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "alarm id is required")
	}

	result, err := action(s.controller, ctx, id)
	if err != nil {
		return nil, toStatus(fmt.Errorf("%s alarm: %w", name, err))
	}

	logger.InfoKV(ctx, "Alarm action applied",
		"action", name,
		"id", id,
		"state", result.State,
		"actor", actorFromContext(ctx))

	return wire.AlarmToStruct(result), nil
}

// actorFromContext formats the caller identity sent in request metadata.
func actorFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	var hostname, username string
	if values := md.Get(MetadataHostname); len(values) > 0 {
		hostname = values[0]
	}

	if values := md.Get(MetadataUsername); len(values) > 0 {
		username = values[0]
	}

	if hostname == "" && username == "" {
		return ""
	}

	return username + "@" + hostname
}

// parseKinds converts the stream filter into bus kinds.
func parseKinds(req *structpb.ListValue) ([]bus.Kind, error) {
	kinds := make([]bus.Kind, 0, len(req.GetValues()))

	for _, v := range req.GetValues() {
		kind, err := bus.ParseKind(v.GetStringValue())
		if err != nil {
			return nil, err
		}

		kinds = append(kinds, kind)
	}

	return kinds, nil
}

// errReadOnly is returned for actions when the authority cannot be controlled.
var errReadOnly = status.Error(codes.Unimplemented, "alarm source does not accept actions")

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal

	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrIDReused):
		code = codes.AlreadyExists
	case errors.Is(err, domain.ErrSourceUnavailable), errors.Is(err, bus.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}

	return status.Error(code, err.Error())
}
