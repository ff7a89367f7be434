package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cuemby/dbfleet/pkg/log"
	"github.com/cuemby/dbfleet/pkg/metrics"
)

// GRPCServer exposes the standard gRPC health service. The overall service
// ("") and each critical component are reported as separate services, so
// `grpc_health_probe -service=store` works.
type GRPCServer struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// GRPCOptions configures a GRPCServer
type GRPCOptions struct {
	// ReadOnly rejects every method that is not a read
	ReadOnly bool
}

// NewGRPCServer creates the gRPC server and registers the health service
func NewGRPCServer(opts GRPCOptions) *GRPCServer {
	interceptors := []grpc.UnaryServerInterceptor{LoggingInterceptor()}
	if opts.ReadOnly {
		interceptors = append(interceptors, ReadOnlyInterceptor())
	}

	s := &GRPCServer{
		grpc:   grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...)),
		health: health.NewServer(),
		logger: log.WithComponent("grpc"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.Sync()
	return s
}

// Sync copies the process health into the gRPC health service
func (s *GRPCServer) Sync() {
	overall := metrics.GetHealth()
	if overall.Status == metrics.StatusUnhealthy {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	} else {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}

	for _, name := range metrics.CriticalComponents {
		comp, ok := metrics.Component(name)
		switch {
		case !ok:
			s.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
		case comp.Healthy:
			s.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
		default:
			s.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
		}
	}
}

// Watch re-syncs the health service every interval until ctx is done
func (s *GRPCServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sync()
		case <-ctx.Done():
			return
		}
	}
}

// Start listens on addr and serves until Stop
func (s *GRPCServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener until Stop
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health listening")
	return s.grpc.Serve(lis)
}

// Stop marks every service as not serving and stops the server gracefully
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
