// Package health exposes store reachability over the gRPC health protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported next to the server-wide status.
const ServiceName = "salesbot.Turns"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves grpc.health.v1.Health and keeps it in sync with a Pinger.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewServer creates a Server. interval is how often the pinger is polled.
func NewServer(pinger Pinger, interval, timeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Server{
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		pinger:   pinger,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Refresh pings once and publishes the result.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.pinger.Ping(ctx); err != nil {
		s.logger.Warn("Health ping failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve listens on addr until ctx ends.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx ends.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	s.Refresh(ctx)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			case <-stop:
				return
			case <-ticker.C:
				s.Refresh(ctx)
			}
		}
	}()

	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	err := s.grpc.Serve(lis)
	close(stop)
	<-done
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve health: %w", err)
	}
	return nil
}
