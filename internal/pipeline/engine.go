package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"sysstats/internal/config"
	"sysstats/internal/extract"
	"sysstats/internal/match"
	"sysstats/internal/probe"
)

// Options overrides engine collaborators; zero values use production defaults.
// Params: prober, clock, metrics, and worker count overrides.
// Returns: engine construction options.
type Options struct {
	Prober  Prober
	Clock   clockwork.Clock
	Metrics *Metrics
	Workers int
}

type statPlan struct {
	name   string
	points []PointPlan
}

type jobResult struct {
	ran         bool
	interrupted bool
	points      []NormalizedPoint
	err         error
}

// Engine runs every configured point and writes results to the sink.
// Params: resolved stat plans, processor, sink, and worker limit.
// Returns: collection engine; safe for concurrent RunAll calls.
type Engine struct {
	stats     []statPlan
	processor *Processor
	sink      Sink
	workers   int
	logger    *slog.Logger
	metrics   *Metrics
}

// NewFromConfig resolves stats from config into an engine.
// Params: cfg validated config; sink point writer; logger root logger; opts collaborator overrides.
// Returns: engine or error when an expression fails to compile.
func NewFromConfig(cfg *config.Config, sink Sink, logger *slog.Logger, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	prober := opts.Prober
	if prober == nil {
		prober = probe.NewRunner(cfg.Collect.MaxOutput)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = cfg.Collect.Workers
	}
	if workers <= 0 {
		workers = 1
	}

	stats := make([]statPlan, 0, len(cfg.Stats))
	for statIdx, stat := range cfg.Stats {
		plan := statPlan{name: stat.Name, points: make([]PointPlan, 0, len(stat.Points))}
		for pointIdx, point := range stat.Points {
			path := fmt.Sprintf("stats[%d].points[%d]", statIdx, pointIdx)
			pointPlan, err := buildPointPlan(stat.Name, point, cfg.Global, cfg.Collect.Timeout.Duration)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			warnDuplicateKeys(logger, path, point)
			plan.points = append(plan.points, pointPlan)
		}
		stats = append(stats, plan)
	}

	return &Engine{
		stats:     stats,
		processor: NewProcessor(prober, opts.Clock, logger),
		sink:      sink,
		workers:   workers,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// buildPointPlan compiles field expressions and merges tags for one point.
// Params: statName owning stat; point definition; global tag settings; timeout default probe timeout.
// Returns: resolved point plan or compile error.
func buildPointPlan(
	statName string,
	point config.PointConfig,
	global config.GlobalConfig,
	timeout time.Duration,
) (PointPlan, error) {
	last := make(map[string]int, len(point.Fields))
	for idx, field := range point.Fields {
		last[field.Key] = idx
	}

	fields := make([]FieldPlan, 0, len(last))
	for idx, field := range point.Fields {
		expression := field.Expression
		if strings.TrimSpace(expression) == "" {
			expression = field.Value
		}
		query, err := extract.Compile(expression)
		if err != nil {
			return PointPlan{}, fmt.Errorf("fields[%d]: %w", idx, err)
		}
		// Overridden definitions are compiled for validation but never evaluated.
		if last[field.Key] != idx {
			continue
		}
		fields = append(fields, FieldPlan{Key: field.Key, Query: query})
	}

	measurement := point.Measurement
	if measurement == "" {
		measurement = statName
	}
	if point.Timeout.Duration > 0 {
		timeout = point.Timeout.Duration
	}

	return PointPlan{
		Stat:        statName,
		Measurement: measurement,
		Command:     append([]string(nil), point.Command...),
		Timeout:     timeout,
		Env:         point.Env,
		Samples:     point.Samples,
		Interval:    point.Interval.Duration,
		Tags:        pointTags(global, point.Tags),
		Fields:      fields,
	}, nil
}

// warnDuplicateKeys logs repeated tag/field keys, which resolve last-write-wins.
// Params: logger target; path config path; point definition.
// Returns: none.
func warnDuplicateKeys(logger *slog.Logger, path string, point config.PointConfig) {
	tags, fields := config.DuplicateKeys(point)
	if len(tags) > 0 {
		logger.Warn("duplicate tag keys, last value wins", slog.String("point", path), slog.String("keys", strings.Join(tags, ",")))
	}
	if len(fields) > 0 {
		logger.Warn("duplicate field keys, last expression wins", slog.String("point", path), slog.String("keys", strings.Join(fields, ",")))
	}
}

// StatNames returns configured stat names in configuration order.
// Params: none.
// Returns: stat names.
func (e *Engine) StatNames() []string {
	names := make([]string, 0, len(e.stats))
	for _, stat := range e.stats {
		names = append(names, stat.name)
	}
	return names
}

// RunAll collects every configured stat.
// Params: ctx cancels dispatch and in-flight probes.
// Returns: run report; cancelled runs are flagged Incomplete.
func (e *Engine) RunAll(ctx context.Context) Report {
	return e.run(ctx, e.stats)
}

// Run collects the named stats, or every stat when names is empty.
// Names may contain '*' wildcards; a name matching no stat is an error.
// Params: ctx cancels dispatch and in-flight probes; names stat selection.
// Returns: run report or ErrUnknownStat.
func (e *Engine) Run(ctx context.Context, names ...string) (Report, error) {
	if len(names) == 0 {
		return e.RunAll(ctx), nil
	}

	matched, unmatched := match.Select(names, e.StatNames())
	if len(unmatched) > 0 {
		return Report{}, fmt.Errorf("%w: %q", ErrUnknownStat, unmatched[0])
	}

	wanted := make(map[string]bool, len(matched))
	for _, name := range matched {
		wanted[name] = true
	}
	selected := make([]statPlan, 0, len(matched))
	for _, stat := range e.stats {
		if wanted[stat.name] {
			selected = append(selected, stat)
		}
	}

	return e.run(ctx, selected), nil
}

// run dispatches all points of stats to the bounded worker pool and assembles the report.
// Each job writes only its own slot; results are read after Wait.
// Params: ctx cancels dispatch and probes; stats selected stat plans.
// Returns: run report.
func (e *Engine) run(ctx context.Context, stats []statPlan) Report {
	started := time.Now()
	runID := uuid.NewString()
	logger := e.logger.With(slog.String("run_id", runID))

	jobs := make([]PointPlan, 0)
	for _, stat := range stats {
		logger.Info("processing stat", slog.String("stat", stat.name), slog.Int("points", len(stat.points)))
		jobs = append(jobs, stat.points...)
	}

	slots := make([]jobResult, len(jobs))
	var group errgroup.Group
	group.SetLimit(e.workers)
	for idx := range jobs {
		if ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			slots[idx] = e.runJob(ctx, logger, jobs[idx])
			return nil
		})
	}
	_ = group.Wait()

	report := Report{
		RunID:   runID,
		Results: make(CollectionResult, len(stats)),
	}
	for _, stat := range stats {
		report.Results[stat.name] = []NormalizedPoint{}
	}
	for idx, job := range jobs {
		slot := slots[idx]
		switch {
		case !slot.ran || slot.interrupted:
			report.Skipped++
		case slot.err != nil:
			report.Failed++
		default:
			report.Succeeded++
			report.Results[job.Stat] = append(report.Results[job.Stat], slot.points...)
		}
	}
	report.Incomplete = report.Skipped > 0

	elapsed := time.Since(started)
	e.metrics.observeRun(report, elapsed)

	level := slog.LevelInfo
	if report.Incomplete || report.AllFailed() {
		level = slog.LevelWarn
	}
	logger.Log(
		ctx,
		level,
		"collection finished",
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		slog.Bool("incomplete", report.Incomplete),
		slog.Duration("elapsed", elapsed),
	)

	return report
}

// runJob processes one point and writes every produced sample to the sink.
// Params: ctx for cancellation; logger run-scoped logger; plan point to process.
// Returns: job outcome.
func (e *Engine) runJob(ctx context.Context, logger *slog.Logger, plan PointPlan) jobResult {
	started := time.Now()
	points, err := e.processor.Process(ctx, plan)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			logger.Warn(
				"point abandoned",
				slog.String("stat", plan.Stat),
				slog.String("measurement", plan.Measurement),
				slog.String("command", strings.Join(plan.Command, " ")),
				slog.String("reason", ctx.Err().Error()),
			)
			return jobResult{ran: true, interrupted: true, err: err}
		}

		e.metrics.observePoint(plan.Stat, err, time.Since(started))
		logger.Error(
			"point failed",
			slog.String("stat", plan.Stat),
			slog.String("measurement", plan.Measurement),
			slog.String("command", strings.Join(plan.Command, " ")),
			slog.String("stage", string(StageOf(err))),
			slog.String("error", err.Error()),
		)
		return jobResult{ran: true, err: err}
	}
	e.metrics.observePoint(plan.Stat, nil, time.Since(started))

	for _, point := range points {
		writeErr := e.sink.Write(ctx, point)
		e.metrics.observeWrite(plan.Stat, point.Measurement, writeErr)
		if writeErr == nil {
			continue
		}
		failure := newStageError(plan, StageWrite, "", writeErr)
		logger.Error(
			"point write failed",
			slog.String("stat", plan.Stat),
			slog.String("measurement", point.Measurement),
			slog.String("tags", formatTags(point.Tags)),
			slog.String("stage", string(StageWrite)),
			slog.String("error", failure.Error()),
		)
	}

	return jobResult{ran: true, points: points}
}
