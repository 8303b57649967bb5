// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. Each Metrics instance
// carries its own registry so tests can run side by side.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls      *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	activeServices prometheus.Gauge
}

// New creates and registers the gateway collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skeet_tool_calls_total",
			Help: "Tool invocations by tool name and outcome.",
		}, []string{"tool", "status"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skeet_refreshes_total",
			Help: "Service refresh cycles by outcome.",
		}, []string{"status"}),
		activeServices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skeet_active_services",
			Help: "Number of currently active backend services.",
		}),
	}

	m.registry.MustRegister(m.toolCalls, m.refreshes, m.activeServices)
	return m
}

// RecordToolCall counts one tool invocation.
func (m *Metrics) RecordToolCall(tool string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

// RecordRefresh counts one refresh cycle.
func (m *Metrics) RecordRefresh(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.refreshes.WithLabelValues(status).Inc()
}

// SetActiveServices records the current active service count.
func (m *Metrics) SetActiveServices(n int) {
	m.activeServices.Set(float64(n))
}

// Handler returns the scrape endpoint handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
