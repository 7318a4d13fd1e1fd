package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds collection counters exposed on /metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	PointsTotal   *prometheus.CounterVec
	FailuresTotal *prometheus.CounterVec
	ProbeDuration *prometheus.HistogramVec
	WritesTotal   *prometheus.CounterVec
}

// NewMetrics creates collection metrics and registers them.
// Params: reg target registerer (nil skips registration).
// Returns: metrics set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sysstats",
				Subsystem: "collect",
				Name:      "runs_total",
				Help:      "Total number of collection runs by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sysstats",
				Subsystem: "collect",
				Name:      "run_duration_seconds",
				Help:      "Wall time of one collection run",
				Buckets:   prometheus.DefBuckets,
			},
		),
		PointsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sysstats",
				Subsystem: "collect",
				Name:      "points_total",
				Help:      "Total number of processed point definitions by stat and status",
			},
			[]string{"stat", "status"},
		),
		FailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sysstats",
				Subsystem: "collect",
				Name:      "failures_total",
				Help:      "Total number of point failures by stat and stage",
			},
			[]string{"stat", "stage"},
		),
		ProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sysstats",
				Subsystem: "probe",
				Name:      "duration_seconds",
				Help:      "Probe processing time per point definition",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stat"},
		),
		WritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sysstats",
				Subsystem: "sink",
				Name:      "writes_total",
				Help:      "Total number of sink writes by measurement and status",
			},
			[]string{"measurement", "status"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.RunsTotal,
			m.RunDuration,
			m.PointsTotal,
			m.FailuresTotal,
			m.ProbeDuration,
			m.WritesTotal,
		)
	}
	return m
}

// observeRun records one finished run.
// Params: report run outcome; elapsed run wall time.
// Returns: none.
func (m *Metrics) observeRun(report Report, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "complete"
	switch {
	case report.Incomplete:
		outcome = "incomplete"
	case report.AllFailed():
		outcome = "failed"
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}

// observePoint records one processed point definition.
// Params: stat name; err processing error (nil on success); elapsed processing time.
// Returns: none.
func (m *Metrics) observePoint(stat string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProbeDuration.WithLabelValues(stat).Observe(elapsed.Seconds())
	if err == nil {
		m.PointsTotal.WithLabelValues(stat, "ok").Inc()
		return
	}
	m.PointsTotal.WithLabelValues(stat, "failed").Inc()
	m.FailuresTotal.WithLabelValues(stat, string(StageOf(err))).Inc()
}

// observeWrite records one sink write.
// Params: stat name; measurement name; err write error (nil on success).
// Returns: none.
func (m *Metrics) observeWrite(stat string, measurement string, err error) {
	if m == nil {
		return
	}
	if err == nil {
		m.WritesTotal.WithLabelValues(measurement, "ok").Inc()
		return
	}
	m.WritesTotal.WithLabelValues(measurement, "failed").Inc()
	m.FailuresTotal.WithLabelValues(stat, string(StageWrite)).Inc()
}
