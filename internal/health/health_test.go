package health

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type flakyPinger struct {
	down atomic.Bool
}

func (p *flakyPinger) Ping(context.Context) error {
	if p.down.Load() {
		return errors.New("database unreachable")
	}
	return nil
}

func TestServerReportsPingerStatus(t *testing.T) {
	pinger := &flakyPinger{}
	srv := NewServer(pinger, time.Hour, time.Second, slog.New(slog.DiscardHandler))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.ServeListener(ctx, lis) }()
	defer func() {
		cancel()
		if err := <-served; err != nil {
			t.Errorf("ServeListener returned %v", err)
		}
	}()

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer checkCancel()

	status, err := Check(checkCtx, lis.Addr().String(), ServiceName)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", status)
	}

	pinger.down.Store(true)
	if got := srv.Refresh(context.Background()); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("Refresh returned %v", got)
	}
	status, err = Check(checkCtx, lis.Addr().String(), "")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING, got %v", status)
	}
}

func TestCheckUnknownService(t *testing.T) {
	srv := NewServer(&flakyPinger{}, time.Hour, time.Second, slog.New(slog.DiscardHandler))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.ServeListener(ctx, lis) }()
	defer func() {
		cancel()
		<-served
	}()

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer checkCancel()
	if _, err := Check(checkCtx, lis.Addr().String(), "nope"); err == nil {
		t.Error("expected NotFound for an unregistered service")
	}
}
