// Package admin is the daemon's control surface: a small gRPC service served
// on the instance's unix socket. Messages are protobuf well-known types, so
// the service descriptor is registered by hand.
package admin

import (
	"context"
	"math"

	"github.com/matheus3301/chatsync/internal/hub"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "chatsync.admin.v1.AdminService"

const (
	methodSimulateDisconnect = "/" + ServiceName + "/SimulateDisconnect"
	methodGetStats           = "/" + ServiceName + "/GetStats"
)

// AdminServer is the server API of the admin service.
type AdminServer interface {
	SimulateDisconnect(context.Context, *emptypb.Empty) (*wrapperspb.UInt32Value, error)
	GetStats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// Hub is what the admin service controls.
type Hub interface {
	SimulateDisconnect() int
	Stats() hub.Stats
}

// Service implements AdminServer on top of the broadcast server.
type Service struct {
	hub    Hub
	logger *zap.Logger
}

// NewService creates the admin service.
func NewService(h Hub, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{hub: h, logger: logger}
}

func (s *Service) SimulateDisconnect(_ context.Context, _ *emptypb.Empty) (*wrapperspb.UInt32Value, error) {
	n := s.hub.SimulateDisconnect()
	s.logger.Info("simulate disconnect via admin socket", zap.Int("dropped", n))
	return wrapperspb.UInt32(uint32(min(n, math.MaxUint32))), nil
}

func (s *Service) GetStats(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.hub.Stats()
	return structpb.NewStruct(map[string]any{
		"connections":     st.Connections,
		"last_message_id": st.LastMessageID,
		"uptime_ms":       st.Uptime.Milliseconds(),
	})
}

// Register adds the admin service to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the admin service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SimulateDisconnect", Handler: simulateDisconnectHandler},
		{MethodName: "GetStats", Handler: getStatsHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func simulateDisconnectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).SimulateDisconnect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSimulateDisconnect}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).SimulateDisconnect(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getStatsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).GetStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetStats}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).GetStats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
