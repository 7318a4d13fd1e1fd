package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"sysstats/internal/config"
	"sysstats/internal/influx"
	"sysstats/internal/logging"
	"sysstats/internal/pipeline"
)

// OnceOptions defines inputs of a single collection run.
// Params: ConfigPath config location; DryRun skips the sink; Output receives result JSON.
// Returns: RunOnce input.
type OnceOptions struct {
	ConfigPath string
	DryRun     bool
	Output     io.Writer
}

type onceDeps struct {
	loadConfig func(string) (*config.Config, error)
	newLogger  func(config.LogConfig) (*slog.Logger, func(), error)
	newSink    func(context.Context, config.InfluxConfig) (pipeline.Sink, func(), error)
	options    pipeline.Options
}

// RunOnce collects every configured stat once and prints the result.
// Params: ctx cancels the run; opts config path, dry-run flag, and output writer.
// Returns: run report; ErrConfig or ErrSinkInit wrapped errors on startup failure.
func RunOnce(ctx context.Context, opts OnceOptions) (pipeline.Report, error) {
	return runOnceWithDeps(ctx, opts, defaultOnceDeps())
}

// defaultOnceDeps provides production dependencies for RunOnce.
// Params: none.
// Returns: dependency set.
func defaultOnceDeps() onceDeps {
	return onceDeps{
		loadConfig: config.Load,
		newLogger:  logging.New,
		newSink: func(ctx context.Context, cfg config.InfluxConfig) (pipeline.Sink, func(), error) {
			sink, err := influx.New(ctx, cfg)
			if err != nil {
				return nil, nil, err
			}
			return sink, sink.Close, nil
		},
	}
}

// runOnceWithDeps executes one collection using injectable dependencies.
// Params: ctx cancels the run; opts run options; deps dependency set.
// Returns: run report or startup error.
func runOnceWithDeps(ctx context.Context, opts OnceOptions, deps onceDeps) (pipeline.Report, error) {
	cfg, err := deps.loadConfig(opts.ConfigPath)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("%w: load config: %w", ErrConfig, err)
	}

	logger, closeLogger, err := deps.newLogger(cfg.Log)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("%w: init logger: %w", ErrConfig, err)
	}
	defer closeLogger()

	var sink pipeline.Sink = pipeline.NewLogSink(logger)
	if !opts.DryRun {
		influxSink, closeSink, sinkErr := deps.newSink(ctx, cfg.Influx)
		if sinkErr != nil {
			logger.Error("sink init failed", slog.String("url", cfg.Influx.URL), slog.String("error", sinkErr.Error()))
			return pipeline.Report{}, fmt.Errorf("%w: %w", ErrSinkInit, sinkErr)
		}
		defer closeSink()
		sink = pipeline.NewMultiSink(influxSink, sink)
	}

	engine, err := pipeline.NewFromConfig(cfg, sink, logger, deps.options)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	report := engine.RunAll(ctx)
	if opts.Output != nil {
		encoder := json.NewEncoder(opts.Output)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report.Results); err != nil {
			return report, fmt.Errorf("write result: %w", err)
		}
	}
	return report, nil
}
