package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"learnhub.org/internal/obs"
)

// HealthServer publishes the readiness probe over the standard gRPC health
// protocol so that orchestrators can probe the service without HTTP.
type HealthServer struct {
	probe  ReadyProbe
	health *health.Server
}

// NewHealthServer creates the gRPC health wrapper. Until the first Refresh
// the service reports NOT_SERVING.
func NewHealthServer(probe ReadyProbe) *HealthServer {
	hs := &HealthServer{probe: probe, health: health.NewServer()}
	hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// Register attaches the health service to srv.
func (s *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Refresh evaluates readiness once and publishes the result.
func (s *HealthServer) Refresh(ctx context.Context) error {
	if err := s.probe.Check(ctx); err != nil {
		obs.SetReady(false)
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	obs.SetReady(true)
	s.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run refreshes the status every interval until ctx is done, then marks
// every service NOT_SERVING.
func (s *HealthServer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_ = s.Refresh(probeCtx)
		cancel()
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (s *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)
}
