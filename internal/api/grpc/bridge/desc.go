package bridge

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "alarm.bridge.v1.AlarmBridge"

// Full method names used by clients.
const (
	FullMethodStartObserving = "/" + ServiceName + "/StartObserving"
	FullMethodStopObserving  = "/" + ServiceName + "/StopObserving"
	FullMethodIsObserving    = "/" + ServiceName + "/IsObserving"
	FullMethodListAlarms     = "/" + ServiceName + "/ListAlarms"
	FullMethodScheduleAlarm  = "/" + ServiceName + "/ScheduleAlarm"
	FullMethodCancelAlarm    = "/" + ServiceName + "/CancelAlarm"
	FullMethodStopAlarm      = "/" + ServiceName + "/StopAlarm"
	FullMethodSnoozeAlarm    = "/" + ServiceName + "/SnoozeAlarm"
	FullMethodPauseAlarm     = "/" + ServiceName + "/PauseAlarm"
	FullMethodResumeAlarm    = "/" + ServiceName + "/ResumeAlarm"
	FullMethodSubscribe      = "/" + ServiceName + "/Subscribe"
)

// Handler is the server-side contract of the AlarmBridge service.
type Handler interface {
	StartObserving(ctx context.Context, req *emptypb.Empty) (*wrapperspb.BoolValue, error)
	StopObserving(ctx context.Context, req *emptypb.Empty) (*wrapperspb.BoolValue, error)
	IsObserving(ctx context.Context, req *emptypb.Empty) (*wrapperspb.BoolValue, error)
	ListAlarms(ctx context.Context, req *emptypb.Empty) (*structpb.ListValue, error)
	ScheduleAlarm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CancelAlarm(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	StopAlarm(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	SnoozeAlarm(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	PauseAlarm(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	ResumeAlarm(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	Subscribe(req *structpb.ListValue, stream grpc.ServerStream) error
}

// ServiceDesc describes the AlarmBridge service for grpc.Server.
//
//nolint:gochecknoglobals // Service descriptors are package-level by convention.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		unary("StartObserving", newEmpty, Handler.StartObserving),
		unary("StopObserving", newEmpty, Handler.StopObserving),
		unary("IsObserving", newEmpty, Handler.IsObserving),
		unary("ListAlarms", newEmpty, Handler.ListAlarms),
		unary("ScheduleAlarm", newStruct, Handler.ScheduleAlarm),
		unary("CancelAlarm", newString, Handler.CancelAlarm),
		unary("StopAlarm", newString, Handler.StopAlarm),
		unary("SnoozeAlarm", newString, Handler.SnoozeAlarm),
		unary("PauseAlarm", newString, Handler.PauseAlarm),
		unary("ResumeAlarm", newString, Handler.ResumeAlarm),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "alarm/bridge/v1/bridge.proto",
}

// Register attaches h to a gRPC server.
func Register(registrar grpc.ServiceRegistrar, h Handler) {
	registrar.RegisterService(&ServiceDesc, h)
}

// unary builds a method descriptor that decodes Req, runs interceptors and calls method.
func unary[Req, Resp proto.Message](
	name string,
	newReq func() Req,
	method func(Handler, context.Context, Req) (Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}

			if interceptor == nil {
				return method(srv.(Handler), ctx, in)
			}

			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}

			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return method(srv.(Handler), ctx, req.(Req))
			})
		},
	}
}

// subscribeHandler reads the kinds filter and hands the stream to the server.
func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.ListValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(Handler).Subscribe(in, stream)
}

func newEmpty() *emptypb.Empty { return new(emptypb.Empty) }

func newStruct() *structpb.Struct { return new(structpb.Struct) }

func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
