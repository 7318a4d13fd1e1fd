package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Sink persists normalized points.
// Params: context and one point.
// Returns: error if the point could not be written.
type Sink interface {
	Write(ctx context.Context, point NormalizedPoint) error
}

// LogSink writes point payloads into debug logs.
// Params: logger used for output.
// Returns: debug sink instance.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a debug sink.
// Params: logger instance.
// Returns: point sink implementation.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Write logs one point as compact JSON.
// Params: ctx gates debug level check; point payload to log.
// Returns: marshal error when payload cannot be encoded.
func (s *LogSink) Write(ctx context.Context, point NormalizedPoint) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.logger.Enabled(ctx, slog.LevelDebug) {
		return nil
	}

	payload, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("marshal point: %w", err)
	}

	s.logger.Debug(
		"metric point",
		slog.String("measurement", point.Measurement),
		slog.String("tags", formatTags(point.Tags)),
		slog.String("payload", string(payload)),
	)

	return nil
}

// MultiSink dispatches one point to multiple sink implementations.
// Params: sink list.
// Returns: composite sink.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds composite sink from sink list.
// Params: sinks target list.
// Returns: multi sink implementation.
func NewMultiSink(sinks ...Sink) *MultiSink {
	out := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		out = append(out, sink)
	}
	return &MultiSink{sinks: out}
}

// Write forwards point to each child sink.
// Params: ctx write context; point payload.
// Returns: first error from downstream sinks, if any.
func (s *MultiSink) Write(ctx context.Context, point NormalizedPoint) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, point); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
