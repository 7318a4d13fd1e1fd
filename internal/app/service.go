package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"sysstats/internal/config"
	"sysstats/internal/influx"
	"sysstats/internal/pipeline"
	"sysstats/internal/server"
)

// collectService owns the sink, engine, and trigger server of one runtime.
type collectService struct {
	server *server.Server
	sink   *influx.Sink
}

// newCollectService connects the sink and binds the trigger endpoint.
// Params: ctx startup context; cfg validated config; logger runtime logger.
// Returns: runnable service or startup error wrapped with ErrSinkInit when the sink is unreachable.
func newCollectService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (serviceRunner, error) {
	sink, err := influx.New(ctx, cfg.Influx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSinkInit, err)
	}

	registry := newRegistry()
	engine, err := pipeline.NewFromConfig(cfg, pipeline.NewMultiSink(sink, pipeline.NewLogSink(logger)), logger, pipeline.Options{
		Metrics: pipeline.NewMetrics(registry),
	})
	if err != nil {
		sink.Close()
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	handler := server.NewRouter(server.RouterConfig{
		Collector:      engine,
		Gatherer:       registry,
		ExecuteTimeout: cfg.HTTP.ExecuteTimeout.Duration,
		Logger:         logger,
	})
	srv, err := server.New(cfg.HTTP.Listen, handler, logger)
	if err != nil {
		sink.Close()
		return nil, fmt.Errorf("start http: %w", err)
	}

	return &collectService{server: srv, sink: sink}, nil
}

// Run serves trigger requests until ctx is done and then closes the sink.
// Params: ctx lifecycle context.
// Returns: server error or nil on graceful stop.
func (s *collectService) Run(ctx context.Context) error {
	defer s.sink.Close()
	return s.server.Run(ctx)
}

// newRegistry creates a per-runtime registry with process collectors.
// Params: none.
// Returns: prometheus registry.
func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}
