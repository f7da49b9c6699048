//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-bridge/internal/api/grpc/bridge"
	"github.com/oshokin/alarm-bridge/internal/api/wire"
	"github.com/oshokin/alarm-bridge/internal/bus"
)

// EventStream receives events from an observer subscription.
type EventStream struct {
	// stream is the underlying server stream.
	stream grpc.ClientStream
	// cancel ends the stream.
	cancel context.CancelFunc
}

// Subscribe opens an event stream for kinds, or for every kind when none are
// given. It returns once the observer has registered the subscription, so
// every event published afterwards is received.
func (c *Client) Subscribe(ctx context.Context, kinds ...bus.Kind) (*EventStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	stream, err := c.conn.NewStream(ctx, &bridge.ServiceDesc.Streams[0], bridge.FullMethodSubscribe)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open event stream: %w", err)
	}

	filter := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(kinds))}
	for _, kind := range kinds {
		filter.Values = append(filter.Values, structpb.NewStringValue(string(kind)))
	}

	if err = stream.SendMsg(filter); err != nil {
		cancel()
		return nil, fmt.Errorf("send event filter: %w", err)
	}

	if err = stream.CloseSend(); err != nil {
		cancel()
		return nil, fmt.Errorf("close event filter: %w", err)
	}

	// Headers arrive once the subscription exists. A rejected call surfaces on Recv.
	if _, err = stream.Header(); err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	return &EventStream{
		stream: stream,
		cancel: cancel,
	}, nil
}

// Recv blocks for the next event. It returns io.EOF when the observer ends the stream.
func (s *EventStream) Recv() (bus.Event, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return bus.Event{}, err
	}

	evt, err := wire.EventFromStruct(msg)
	if err != nil {
		return bus.Event{}, fmt.Errorf("decode event: %w", err)
	}

	return evt, nil
}

// Close ends the stream.
func (s *EventStream) Close() {
	s.cancel()
}
