// Package observability exposes Prometheus metrics for the assistant.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metricsmith/sage/pkg/agent"
	"github.com/metricsmith/sage/pkg/tools"
)

// Metrics implements the recorder hooks of the agent loop and the tool
// executor on top of a Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	runRounds      prometheus.Histogram
	runsTotal      *prometheus.CounterVec
	toolExecutions *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		runRounds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sage_run_rounds",
			Help:    "Model round trips needed per conversation turn.",
			Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
		}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sage_runs_total",
			Help: "Conversation turns by terminal state.",
		}, []string{"state"}),
		toolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sage_tool_executions_total",
			Help: "Tool executions by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sage_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
	}
}

// RecordRun implements agent.Metrics.
func (m *Metrics) RecordRun(rounds int, state agent.State) {
	m.runRounds.Observe(float64(rounds))
	m.runsTotal.WithLabelValues(string(state)).Inc()
}

// RecordToolExecution implements tools.Recorder.
func (m *Metrics) RecordToolExecution(tool string, success bool, kind tools.FailureKind, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = string(kind)
		if outcome == "" {
			outcome = "failure"
		}
	}
	m.toolExecutions.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
