package grpc

import (
	"context"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-check service name reported next to the
// overall ("") status.
const ServiceName = "spacechat"

// Server is the gRPC server multiplexed onto the main listener. It carries
// the standard health service so gRPC-aware load balancers can probe the
// same port that serves the HTTP API.
type Server struct {
	*grpc.Server
	health *health.Server
}

// NewServer creates a gRPC server reporting NOT_SERVING until MarkServing.
func NewServer() *Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(logUnaryErrors))
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, h)
	reflection.Register(s)
	return &Server{Server: s, health: h}
}

// MarkServing flips the health status once the service is ready.
func (s *Server) MarkServing() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Drain reports NOT_SERVING to watchers ahead of shutdown.
func (s *Server) Drain() {
	s.health.Shutdown()
}

func logUnaryErrors(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		log.Debug("gRPC call failed", "method", info.FullMethod, "err", err)
	}
	return resp, err
}
