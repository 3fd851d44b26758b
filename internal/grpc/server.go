package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name under which the ledger reports its health.
const ServiceName = "ledger.v1.LedgerService"

// Pinger checks that the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer implements grpc.health.v1.Health, backed by periodic store pings.
type HealthServer struct {
	*health.Server
	pinger   Pinger
	interval time.Duration
	logger   *zap.Logger
}

// NewHealthServer creates a new HealthServer. It reports NOT_SERVING until the
// first successful ping.
func NewHealthServer(pinger Pinger, interval time.Duration, logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s := &HealthServer{
		Server:   health.NewServer(),
		pinger:   pinger,
		interval: interval,
		logger:   logger.With(zap.String("component", "grpc-health")),
	}
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Run pings the store every interval until ctx is cancelled, then marks the
// service NOT_SERVING for the rest of its life.
func (s *HealthServer) Run(ctx context.Context) error {
	s.check(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return nil
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *HealthServer) check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	if err := s.pinger.Ping(pingCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("store ping failed", zap.Error(err))
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
}

func (s *HealthServer) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.SetServingStatus("", status)
	s.SetServingStatus(ServiceName, status)
}

// NewServer creates a gRPC server exposing health and reflection.
func NewServer(healthServer *HealthServer) *grpc.Server {
	server := grpc.NewServer()

	healthpb.RegisterHealthServer(server, healthServer)

	// Register reflection service (useful for tools like grpcurl)
	reflection.Register(server)

	return server
}
