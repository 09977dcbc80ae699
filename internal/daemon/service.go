//go:build linux

package daemon

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// WormholeControlServer is the daemon-side control-plane interface. Its
// methods use the protobuf well-known wrapper types (wrapperspb/emptypb/
// structpb) as messages rather than a bespoke generated package, since
// there is no .proto source to run protoc-gen-go against here; the RPC
// wiring below is written in the same shape protoc-gen-go-grpc would emit
// for a one-method-per-line service.
type WormholeControlServer interface {
	// Status reports {environment name -> assembly state string} for
	// every registered environment.
	Status(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	// Assemble synchronously assembles the named environment in the
	// daemon's own mount namespace and returns its resulting state.
	Assemble(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	// BeginAsyncSetup starts a forked-helper setup for the named
	// environment. A second call while one is pending for
	// the same environment fails with a protocol error.
	BeginAsyncSetup(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error)
	// WaitAsyncSetup blocks until the named environment's pending async
	// setup completes and returns its resulting state.
	WaitAsyncSetup(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

// Service adapts an Engine to WormholeControlServer.
type Service struct {
	Engine *Engine
}

var _ WormholeControlServer = (*Service)(nil)

func (s *Service) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	fields := make(map[string]any)
	for _, name := range s.Engine.Names() {
		state, _ := s.Engine.State(name)
		fields[name] = state.String()
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("daemon: Status: %w", err)
	}
	return st, nil
}

func (s *Service) Assemble(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if err := s.Engine.AssembleInline(ctx, req.GetValue()); err != nil {
		return nil, err
	}
	state, _ := s.Engine.State(req.GetValue())
	return wrapperspb.String(state.String()), nil
}

func (s *Service) BeginAsyncSetup(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.Engine.BeginAsyncSetup(req.GetValue()); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) WaitAsyncSetup(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if err := s.Engine.WaitAsyncSetup(req.GetValue()); err != nil {
		return nil, err
	}
	state, _ := s.Engine.State(req.GetValue())
	return wrapperspb.String(state.String()), nil
}

// RegisterWormholeControlServer registers srv on s, the shape
// protoc-gen-go-grpc would generate for a WormholeControl service.
func RegisterWormholeControlServer(s *grpc.Server, srv WormholeControlServer) {
	s.RegisterService(&wormholeControlServiceDesc, srv)
}

func _WormholeControl_Status_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WormholeControlServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wormhole.control.WormholeControl/Status"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WormholeControlServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _WormholeControl_Assemble_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WormholeControlServer).Assemble(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wormhole.control.WormholeControl/Assemble"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WormholeControlServer).Assemble(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _WormholeControl_BeginAsyncSetup_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WormholeControlServer).BeginAsyncSetup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wormhole.control.WormholeControl/BeginAsyncSetup"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WormholeControlServer).BeginAsyncSetup(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _WormholeControl_WaitAsyncSetup_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WormholeControlServer).WaitAsyncSetup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wormhole.control.WormholeControl/WaitAsyncSetup"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WormholeControlServer).WaitAsyncSetup(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

var wormholeControlServiceDesc = grpc.ServiceDesc{
	ServiceName: "wormhole.control.WormholeControl",
	HandlerType: (*WormholeControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: _WormholeControl_Status_Handler},
		{MethodName: "Assemble", Handler: _WormholeControl_Assemble_Handler},
		{MethodName: "BeginAsyncSetup", Handler: _WormholeControl_BeginAsyncSetup_Handler},
		{MethodName: "WaitAsyncSetup", Handler: _WormholeControl_WaitAsyncSetup_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wormhole/control.proto",
}

// WormholeControlClient is the client-side counterpart, mirroring
// protoc-gen-go-grpc's generated client interface.
type WormholeControlClient interface {
	Status(ctx context.Context, req *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Assemble(ctx context.Context, req *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	BeginAsyncSetup(ctx context.Context, req *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	WaitAsyncSetup(ctx context.Context, req *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
}

type wormholeControlClient struct {
	cc grpc.ClientConnInterface
}

// NewWormholeControlClient wraps a dialed connection.
func NewWormholeControlClient(cc grpc.ClientConnInterface) WormholeControlClient {
	return &wormholeControlClient{cc: cc}
}

func (c *wormholeControlClient) Status(ctx context.Context, req *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/wormhole.control.WormholeControl/Status", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *wormholeControlClient) Assemble(ctx context.Context, req *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/wormhole.control.WormholeControl/Assemble", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *wormholeControlClient) BeginAsyncSetup(ctx context.Context, req *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, "/wormhole.control.WormholeControl/BeginAsyncSetup", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *wormholeControlClient) WaitAsyncSetup(ctx context.Context, req *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/wormhole.control.WormholeControl/WaitAsyncSetup", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
