package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"sysstats/internal/config"
	"sysstats/internal/pipeline"
)

// Sink writes normalized points to one InfluxDB v2 bucket.
// The blocking write API is safe for concurrent use by engine workers.
type Sink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	target string
}

// New connects to InfluxDB and verifies the server answers ping.
// Params: ctx bounds the startup ping; cfg validated influx section.
// Returns: sink or connection error.
func New(ctx context.Context, cfg config.InfluxConfig) (*Sink, error) {
	options := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(timeoutSeconds(cfg.Timeout.Duration)).
		SetPrecision(precision(cfg.Precision))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout.Duration)
	defer cancel()

	ok, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ping influx %q: %w", cfg.URL, err)
	}
	if !ok {
		client.Close()
		return nil, fmt.Errorf("ping influx %q: server not ready", cfg.URL)
	}

	return &Sink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		target: cfg.Org + "/" + cfg.Bucket,
	}, nil
}

// Write stores one point: one tag per tag entry, one field per field entry.
// Params: ctx request context; point normalized point.
// Returns: write error from the server.
func (s *Sink) Write(ctx context.Context, point pipeline.NormalizedPoint) error {
	record := influxdb2.NewPointWithMeasurement(point.Measurement)
	for key, value := range point.Tags {
		record.AddTag(key, value)
	}
	for key, value := range point.Fields {
		record.AddField(key, value)
	}
	if !point.Time.IsZero() {
		record.SetTime(point.Time)
	}

	if err := s.writer.WritePoint(ctx, record); err != nil {
		return fmt.Errorf("write %s to %s: %w", point.Measurement, s.target, err)
	}
	return nil
}

// Close releases client resources.
// Params: none.
// Returns: none.
func (s *Sink) Close() {
	if s == nil || s.client == nil {
		return
	}
	s.client.Close()
}

// timeoutSeconds converts a duration to whole seconds, rounding up.
// Params: timeout duration.
// Returns: seconds, at least 1.
func timeoutSeconds(timeout time.Duration) uint {
	seconds := uint((timeout + time.Second - 1) / time.Second)
	if seconds == 0 {
		return 1
	}
	return seconds
}

// precision maps a config precision name to the client time unit.
// Params: name one of ns, us, ms, s.
// Returns: precision duration; nanoseconds when unknown.
func precision(name string) time.Duration {
	switch name {
	case "us":
		return time.Microsecond
	case "ms":
		return time.Millisecond
	case "s":
		return time.Second
	default:
		return time.Nanosecond
	}
}
