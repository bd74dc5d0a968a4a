// Package replicav1 defines the replica daemon control service. Messages
// are google.protobuf.Struct values so the service needs no generated code;
// codec.go maps them to and from the Go types.
package replicav1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "replica.v1.Control"

// Full method names.
const (
	Control_Status_FullMethodName   = "/" + ServiceName + "/Status"
	Control_Trigger_FullMethodName  = "/" + ServiceName + "/Trigger"
	Control_Recent_FullMethodName   = "/" + ServiceName + "/Recent"
	Control_History_FullMethodName  = "/" + ServiceName + "/History"
	Control_Shutdown_FullMethodName = "/" + ServiceName + "/Shutdown"
	Control_Watch_FullMethodName    = "/" + ServiceName + "/Watch"
)

// ControlServer is the server API for the control service.
type ControlServer interface {
	// Status returns the daemon and driver state.
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Trigger requests an immediate pass.
	Trigger(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Recent returns the most recent actions; the request carries "limit".
	Recent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// History returns recorded passes, newest first; the request carries "limit".
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Shutdown stops the daemon.
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	// Watch streams actions and finished passes; the request carries "root".
	Watch(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// UnimplementedControlServer returns Unimplemented for every method.
type UnimplementedControlServer struct{}

func (UnimplementedControlServer) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Status not implemented")
}

func (UnimplementedControlServer) Trigger(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Trigger not implemented")
}

func (UnimplementedControlServer) Recent(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Recent not implemented")
}

func (UnimplementedControlServer) History(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method History not implemented")
}

func (UnimplementedControlServer) Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Shutdown not implemented")
}

func (UnimplementedControlServer) Watch(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error {
	return status.Error(codes.Unimplemented, "method Watch not implemented")
}

// RegisterControlServer registers srv with s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&Control_ServiceDesc, srv)
}

// unaryHandler adapts a typed ControlServer method to a grpc.MethodHandler.
func unaryHandler[Req, Res any](fullMethod string, call func(ControlServer, context.Context, *Req) (*Res, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ControlServer).Watch(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// Control_ServiceDesc is the grpc.ServiceDesc for the control service.
var Control_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Status",
			Handler:    unaryHandler(Control_Status_FullMethodName, ControlServer.Status),
		},
		{
			MethodName: "Trigger",
			Handler:    unaryHandler(Control_Trigger_FullMethodName, ControlServer.Trigger),
		},
		{
			MethodName: "Recent",
			Handler:    unaryHandler(Control_Recent_FullMethodName, ControlServer.Recent),
		},
		{
			MethodName: "History",
			Handler:    unaryHandler(Control_History_FullMethodName, ControlServer.History),
		},
		{
			MethodName: "Shutdown",
			Handler:    unaryHandler(Control_Shutdown_FullMethodName, ControlServer.Shutdown),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "replica/v1/control",
}

// ControlClient is the client API for the control service.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

// NewControlClient returns a client on cc.
func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

// Status calls Control.Status.
func (c *ControlClient) Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Control_Status_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Trigger calls Control.Trigger.
func (c *ControlClient) Trigger(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Control_Trigger_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Recent calls Control.Recent.
func (c *ControlClient) Recent(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Control_Recent_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// History calls Control.History.
func (c *ControlClient) History(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Control_History_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Shutdown calls Control.Shutdown.
func (c *ControlClient) Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, Control_Shutdown_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch opens a Control.Watch stream.
func (c *ControlClient) Watch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &Control_ServiceDesc.Streams[0], Control_Watch_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
