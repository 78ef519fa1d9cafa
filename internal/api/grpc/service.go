package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "pt100.Control"

// ControlServer is the server API for pt100.Control. Requests are empty and
// replies are JSON-shaped structs, so no generated code is needed.
type ControlServer interface {
	Start(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Configure(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Latest(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Watch(*emptypb.Empty, Control_WatchServer) error
}

// Control_WatchServer is the server side of the Watch stream.
type Control_WatchServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type controlWatchServer struct {
	grpc.ServerStream
}

func (x *controlWatchServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

type unaryCall func(ControlServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).Watch(in, &controlWatchServer{stream})
}

// ControlServiceDesc describes pt100.Control for grpc.Server.RegisterService.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Start", Handler: unaryHandler("Start", ControlServer.Start)},
		{MethodName: "Stop", Handler: unaryHandler("Stop", ControlServer.Stop)},
		{MethodName: "Configure", Handler: unaryHandler("Configure", ControlServer.Configure)},
		{MethodName: "Status", Handler: unaryHandler("Status", ControlServer.Status)},
		{MethodName: "Latest", Handler: unaryHandler("Latest", ControlServer.Latest)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "pt100/control.proto",
}

// RegisterControlServer attaches srv to s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}
