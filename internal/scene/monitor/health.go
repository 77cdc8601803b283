package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/scene.report/internal/scene/acquire"
	"github.com/banshee-data/scene.report/internal/timeutil"
)

// ServiceName is the gRPC health service name for the acquisition loop.
const ServiceName = "scene.v1.Acquisition"

// Healthy reports whether the loop is running and its most recent cycle
// published a snapshot.
func Healthy(s acquire.Stats) bool {
	return s.Running && s.Published > 0 && s.ConsecutiveFailures == 0
}

// StatsSource reports acquisition loop counters.
type StatsSource interface {
	Stats() acquire.Stats
}

// HealthConfig contains configuration for HealthServer.
type HealthConfig struct {
	// Source is required.
	Source StatsSource
	// Interval between health refreshes. Zero means one second.
	Interval time.Duration
	// Clock is optional; if nil, uses timeutil.RealClock.
	Clock timeutil.Clock
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// HealthServer serves the standard gRPC health protocol, reporting SERVING
// for both "" and ServiceName while the acquisition loop is healthy.
type HealthServer struct {
	source   StatsSource
	interval time.Duration
	clock    timeutil.Clock
	logger   *log.Logger

	health *health.Server
	grpc   *grpc.Server

	mu     sync.Mutex
	status grpc_health_v1.HealthCheckResponse_ServingStatus
}

// NewHealthServer creates a HealthServer. It starts NOT_SERVING.
func NewHealthServer(cfg HealthConfig) *HealthServer {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	h := &HealthServer{
		source:   cfg.Source,
		interval: interval,
		clock:    clock,
		logger:   logger,
		health:   health.NewServer(),
		grpc:     grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler())),
	}
	grpc_health_v1.RegisterHealthServer(h.grpc, h.health)
	h.status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	h.set(h.status)
	return h
}

func (h *HealthServer) set(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// Refresh samples the loop and updates the published status.
func (h *HealthServer) Refresh() grpc_health_v1.HealthCheckResponse_ServingStatus {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if Healthy(h.source.Stats()) {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if status != h.status {
		h.status = status
		h.set(status)
		h.logger.Printf("[Health] acquisition status %s", status)
	}
	return status
}

// Status returns the last published status.
func (h *HealthServer) Status() grpc_health_v1.HealthCheckResponse_ServingStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Serve serves gRPC on lis and refreshes health until ctx is cancelled.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	h.logger.Printf("[Health] gRPC server listening at %v", lis.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- h.grpc.Serve(lis)
	}()

	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()
	h.Refresh()

	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			h.grpc.GracefulStop()
			err := <-serveErr
			if err == nil || errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return fmt.Errorf("serve gRPC: %w", err)
		case err := <-serveErr:
			if err == nil || errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return fmt.Errorf("serve gRPC: %w", err)
		case <-ticker.C():
			h.Refresh()
		}
	}
}
