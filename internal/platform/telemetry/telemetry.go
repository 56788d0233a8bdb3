// Package telemetry holds the campaign's Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qmt"

// Iteration outcomes.
const (
	OutcomeCompleted      = "completed"
	OutcomeGenerationFail = "generation_failed"
	OutcomeTransformFail  = "transformation_failed"
	OutcomeArtifactFail   = "artifact_failed"
	OutcomePersistFail    = "persistence_failed"
	OutcomeTimeout        = "timeout"
)

type Metrics struct {
	registry *prometheus.Registry

	Iterations        *prometheus.CounterVec
	Crashes           *prometheus.CounterVec
	Divergences       *prometheus.CounterVec
	Timeouts          *prometheus.CounterVec
	IterationDuration prometheus.Histogram
	ExecutionDuration *prometheus.HistogramVec
	PipelineLength    prometheus.Histogram
	ScanFlagged       prometheus.Gauge
	ScanTested        prometheus.Gauge
}

// New registers every metric on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg)
}

func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Iterations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Iterations by outcome",
		}, []string{"outcome"}),
		Crashes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crashes_total",
			Help:      "Candidate program crashes by side",
		}, []string{"platform"}),
		Divergences: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "divergences_total",
			Help:      "Per-pair divergence verdicts by detector",
		}, []string{"detector"}),
		Timeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeouts_total",
			Help:      "Expired time budgets by scope",
		}, []string{"scope"}),
		IterationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_duration_seconds",
			Help:      "Wall-clock duration of completed iterations",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		ExecutionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Candidate program execution time by side",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"platform"}),
		PipelineLength: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_length",
			Help:      "Number of rules applied per follow-up",
			Buckets:   prometheus.LinearBuckets(1, 1, 8),
		}),
		ScanFlagged: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_flagged",
			Help:      "Records flagged by the latest history scan",
		}),
		ScanTested: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_tested",
			Help:      "Records tested by the latest history scan",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
