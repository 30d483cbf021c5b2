package observability

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth exposes grpc.health.v1 for process supervisors that probe over gRPC.
type GRPCHealth struct {
	server *grpc.Server
	health *health.Server
}

// NewGRPCHealth creates a health server. Every service starts NOT_SERVING.
func NewGRPCHealth(services ...string) *GRPCHealth {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, svc := range services {
		hs.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCHealth{server: srv, health: hs}
}

// SetServing flips one service between SERVING and NOT_SERVING.
func (g *GRPCHealth) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(service, status)
}

// Serve listens on addr until ctx is cancelled.
func (g *GRPCHealth) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return g.ServeListener(ctx, lis)
}

// ServeListener serves on an existing listener until ctx is cancelled.
func (g *GRPCHealth) ServeListener(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		g.health.Shutdown()
		g.server.GracefulStop()
	}()

	if err := g.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc health server failed: %w", err)
	}
	return nil
}
