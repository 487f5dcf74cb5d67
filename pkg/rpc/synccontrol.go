package rpc

import (
	"context"

	"tzlogs/pkg/fetchapi"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

const SyncControlService = "tzlogs.SyncControl"

// SyncControlServer is implemented by the coordinator.
type SyncControlServer interface {
	SyncRange(context.Context, *fetchapi.RangeRequest) (*fetchapi.StartReply, error)
	SyncMissing(context.Context, *fetchapi.MissingRequest) (*fetchapi.StartReply, error)
	SyncAutoContinue(context.Context, *fetchapi.AutoRequest) (*fetchapi.StartReply, error)
	Abort(context.Context, *emptypb.Empty) (*fetchapi.StartReply, error)
	GetProgress(context.Context, *emptypb.Empty) (*fetchapi.Progress, error)
}

func method(name string) string {
	return "/" + SyncControlService + "/" + name
}

// unary adapts a typed server method to a grpc method handler.
func unary[Req any, Resp any](name string, call func(SyncControlServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SyncControlServer), ctx, in)
			}

			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SyncControlServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var syncControlDesc = grpc.ServiceDesc{
	ServiceName: SyncControlService,
	HandlerType: (*SyncControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SyncRange", SyncControlServer.SyncRange),
		unary("SyncMissing", SyncControlServer.SyncMissing),
		unary("SyncAutoContinue", SyncControlServer.SyncAutoContinue),
		unary("Abort", SyncControlServer.Abort),
		unary("GetProgress", SyncControlServer.GetProgress),
	},
	Metadata: "tzlogs/sync_control",
}

// RegisterSyncControlServer registers srv on s.
func RegisterSyncControlServer(s grpc.ServiceRegistrar, srv SyncControlServer) {
	s.RegisterService(&syncControlDesc, srv)
}

// SyncControlClient calls the coordinator.
type SyncControlClient interface {
	SyncRange(ctx context.Context, in *fetchapi.RangeRequest, opts ...grpc.CallOption) (*fetchapi.StartReply, error)
	SyncMissing(ctx context.Context, in *fetchapi.MissingRequest, opts ...grpc.CallOption) (*fetchapi.StartReply, error)
	SyncAutoContinue(ctx context.Context, in *fetchapi.AutoRequest, opts ...grpc.CallOption) (*fetchapi.StartReply, error)
	Abort(ctx context.Context, opts ...grpc.CallOption) (*fetchapi.StartReply, error)
	GetProgress(ctx context.Context, opts ...grpc.CallOption) (*fetchapi.Progress, error)
}

type syncControlClient struct {
	cc grpc.ClientConnInterface
}

func NewSyncControlClient(cc grpc.ClientConnInterface) SyncControlClient {
	return &syncControlClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, name string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method(name), in, out, opts...); err != nil {
		return nil, FromStatus(err)
	}
	return out, nil
}

func (c *syncControlClient) SyncRange(ctx context.Context, in *fetchapi.RangeRequest, opts ...grpc.CallOption) (*fetchapi.StartReply, error) {
	return invoke[fetchapi.StartReply](ctx, c.cc, "SyncRange", in, opts)
}

func (c *syncControlClient) SyncMissing(ctx context.Context, in *fetchapi.MissingRequest, opts ...grpc.CallOption) (*fetchapi.StartReply, error) {
	return invoke[fetchapi.StartReply](ctx, c.cc, "SyncMissing", in, opts)
}

func (c *syncControlClient) SyncAutoContinue(ctx context.Context, in *fetchapi.AutoRequest, opts ...grpc.CallOption) (*fetchapi.StartReply, error) {
	return invoke[fetchapi.StartReply](ctx, c.cc, "SyncAutoContinue", in, opts)
}

func (c *syncControlClient) Abort(ctx context.Context, opts ...grpc.CallOption) (*fetchapi.StartReply, error) {
	return invoke[fetchapi.StartReply](ctx, c.cc, "Abort", &emptypb.Empty{}, opts)
}

func (c *syncControlClient) GetProgress(ctx context.Context, opts ...grpc.CallOption) (*fetchapi.Progress, error) {
	return invoke[fetchapi.Progress](ctx, c.cc, "GetProgress", &emptypb.Empty{}, opts)
}
