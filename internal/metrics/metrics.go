package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for finished pipeline runs
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds the Prometheus metrics of the pipeline.
// A nil *Metrics is valid and records nothing.
//
// Metrics:
//   - reposcan_pipeline_runs_total{source,query,outcome}
//   - reposcan_pipeline_errors_total{kind}
//   - reposcan_stage_duration_seconds{stage}
//   - reposcan_retrieved_bytes_total{source}
//   - reposcan_files_total{result}
//   - reposcan_diagnostics_total{kind}
//   - reposcan_workspaces_active
//   - reposcan_workspace_cleanup_failures_total
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	RetrievedBytes  *prometheus.CounterVec
	FilesTotal      *prometheus.CounterVec
	Diagnostics     *prometheus.CounterVec
	ActiveWorkspace prometheus.Gauge
	CleanupFailures prometheus.Counter
}

// New creates the metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates the metrics on reg
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reposcan_pipeline_runs_total",
				Help: "Total number of pipeline runs",
			},
			[]string{"source", "query", "outcome"},
		),
		ErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reposcan_pipeline_errors_total",
				Help: "Total number of failed pipeline runs by error kind",
			},
			[]string{"kind"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reposcan_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4m
			},
			[]string{"stage"},
		),
		RetrievedBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reposcan_retrieved_bytes_total",
				Help: "Total number of bytes retrieved from remote sources",
			},
			[]string{"source"},
		),
		FilesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reposcan_files_total",
				Help: "Total number of candidate files by scan result",
			},
			[]string{"result"},
		),
		Diagnostics: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reposcan_diagnostics_total",
				Help: "Total number of non-fatal diagnostics by kind",
			},
			[]string{"kind"},
		),
		ActiveWorkspace: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "reposcan_workspaces_active",
				Help: "Number of workspaces currently on disk",
			},
		),
		CleanupFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "reposcan_workspace_cleanup_failures_total",
				Help: "Total number of workspaces that could not be removed",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRun records a finished pipeline run
func (m *Metrics) RecordRun(source, query string, kind string) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if kind != "" {
		outcome = OutcomeError
		m.ErrorsTotal.WithLabelValues(kind).Inc()
	}
	m.RunsTotal.WithLabelValues(source, query, outcome).Inc()
}

// ObserveStage records the duration of one stage
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// AddRetrievedBytes records bytes retrieved for a source kind
func (m *Metrics) AddRetrievedBytes(source string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RetrievedBytes.WithLabelValues(source).Add(float64(n))
}

// RecordFile records the scan result of one candidate file
func (m *Metrics) RecordFile(result string) {
	if m == nil {
		return
	}
	m.FilesTotal.WithLabelValues(result).Inc()
}

// RecordDiagnostic records one non-fatal diagnostic
func (m *Metrics) RecordDiagnostic(kind string) {
	if m == nil {
		return
	}
	m.Diagnostics.WithLabelValues(kind).Inc()
}

// WorkspaceCreated increments the active workspace gauge
func (m *Metrics) WorkspaceCreated() {
	if m == nil {
		return
	}
	m.ActiveWorkspace.Inc()
}

// WorkspaceDestroyed decrements the active workspace gauge, counting a failure when err is set
func (m *Metrics) WorkspaceDestroyed(err error) {
	if m == nil {
		return
	}
	m.ActiveWorkspace.Dec()
	if err != nil {
		m.CleanupFailures.Inc()
	}
}
