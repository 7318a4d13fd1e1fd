package pipeline

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"sysstats/internal/extract"
	"sysstats/internal/probe"
)

// Prober runs one probe command.
// Params: context for cancellation and probe request.
// Returns: captured result or execution error.
type Prober interface {
	Run(ctx context.Context, req probe.Request) (probe.Result, error)
}

// FieldPlan is one field key bound to its compiled expression.
type FieldPlan struct {
	Key   string
	Query *extract.Query
}

// PointPlan is a point definition resolved for execution.
// Params: stat identity, probe command settings, merged tags, and compiled fields.
// Returns: processor input.
type PointPlan struct {
	Stat        string
	Measurement string
	Command     []string
	Timeout     time.Duration
	Env         map[string]string
	Samples     int
	Interval    time.Duration
	Tags        map[string]string
	Fields      []FieldPlan
}

// Processor turns one point plan into normalized points.
type Processor struct {
	prober Prober
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewProcessor creates a point processor.
// Params: prober command runner; clock timestamp/interval source; logger for probe warnings.
// Returns: processor instance.
func NewProcessor(prober Prober, clock clockwork.Clock, logger *slog.Logger) *Processor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Processor{
		prober: prober,
		clock:  clock,
		logger: logger,
	}
}

// Process runs the probe Samples times and extracts every field from each output.
// Any stage failure fails the whole point; no partial points are produced.
// Params: ctx cancels probes and sample waits; plan resolved point definition.
// Returns: one point per sample or *StageError.
func (p *Processor) Process(ctx context.Context, plan PointPlan) ([]NormalizedPoint, error) {
	samples := plan.Samples
	if samples < 1 {
		samples = 1
	}

	points := make([]NormalizedPoint, 0, samples)
	for sample := 0; sample < samples; sample++ {
		if sample > 0 && plan.Interval > 0 {
			select {
			case <-ctx.Done():
				return nil, newStageError(plan, StageExecute, "", ctx.Err())
			case <-p.clock.After(plan.Interval):
			}
		}

		point, err := p.sample(ctx, plan)
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, nil
}

// sample runs one probe and assembles one normalized point.
// Params: ctx for cancellation; plan resolved point definition.
// Returns: normalized point or *StageError.
func (p *Processor) sample(ctx context.Context, plan PointPlan) (NormalizedPoint, error) {
	result, err := p.prober.Run(ctx, probe.Request{
		Command: plan.Command,
		Timeout: plan.Timeout,
		Env:     plan.Env,
	})
	if err != nil {
		return NormalizedPoint{}, newStageError(plan, StageExecute, "", err)
	}
	if result.ExitCode != 0 || result.Stderr != "" {
		p.logger.Warn(
			"probe reported stderr",
			slog.String("stat", plan.Stat),
			slog.String("measurement", plan.Measurement),
			slog.String("command", strings.Join(plan.Command, " ")),
			slog.Int("exit_code", result.ExitCode),
			slog.String("stderr", result.Stderr),
		)
	}

	document, err := decodeDocument(result.Stdout)
	if err != nil {
		return NormalizedPoint{}, newStageError(plan, StageParse, "", err)
	}

	fields := make(map[string]float64, len(plan.Fields))
	for _, field := range plan.Fields {
		value, extractErr := field.Query.Extract(ctx, document)
		if extractErr != nil {
			return NormalizedPoint{}, newStageError(plan, StageExtract, field.Key, extractErr)
		}
		fields[field.Key] = value
	}

	tags := maps.Clone(plan.Tags)
	if tags == nil {
		tags = map[string]string{}
	}

	return NormalizedPoint{
		Measurement: plan.Measurement,
		Tags:        tags,
		Fields:      fields,
		Time:        p.clock.Now(),
	}, nil
}

// newStageError wraps a point failure with its identity.
// Params: plan failing point; stage failing step; field optional field key; err cause.
// Returns: stage error.
func newStageError(plan PointPlan, stage Stage, field string, err error) *StageError {
	return &StageError{
		Stage:       stage,
		Stat:        plan.Stat,
		Measurement: plan.Measurement,
		Command:     plan.Command,
		Field:       field,
		Err:         err,
	}
}
