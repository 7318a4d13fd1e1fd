package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"sysstats/internal/config"
)

const healthService = "sysstats"

// startHealthServer starts optional gRPC health endpoint for orchestrator probes.
// Params: ctx controls lifecycle; cfg provides enabled/listen options; logger reports runtime events.
// Returns: stop function (idempotent) and startup error.
func startHealthServer(ctx context.Context, cfg config.GRPCConfig, logger *slog.Logger) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", cfg.Listen, err)
	}

	status := health.NewServer()
	status.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	status.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, status)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(listener); err != nil {
			logger.Error("grpc health server failed", slog.String("addr", cfg.Listen), slog.String("error", err.Error()))
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			status.Shutdown()
			srv.GracefulStop()
			<-done
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	logger.Info("grpc health server started", slog.String("addr", listener.Addr().String()))
	return stop, nil
}
