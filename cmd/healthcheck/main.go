// Command healthcheck queries the gRPC health endpoint and exits non-zero when unhealthy.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/salesbot/internal/health"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "gRPC health address")
	service := flag.String("service", health.ServiceName, "service to check")
	timeout := flag.Duration("timeout", 3*time.Second, "check timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	status, err := health.Check(ctx, *addr, *service)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(status.String())
	if status != healthpb.HealthCheckResponse_SERVING {
		os.Exit(1)
	}
}
