// internal/utils/metrics.go
package utils

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Document operation outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeDefault   = "default"
	OutcomeMigrated  = "migrated"
	OutcomeMalformed = "malformed"
	OutcomeShape     = "shape_mismatch"
	OutcomeError     = "error"
)

// Metrics owns the process collectors. Each instance has its own registry so
// tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests      *prometheus.CounterVec
	apiDuration      *prometheus.HistogramVec
	documentReads    *prometheus.CounterVec
	documentWrites   *prometheus.CounterVec
	errors           *prometheus.CounterVec
	websocketClients prometheus.Gauge
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brc",
			Name:      "api_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"endpoint", "method", "status"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "brc",
			Name:      "api_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "method"}),
		documentReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brc",
			Name:      "document_reads_total",
			Help:      "Document reads by document type and outcome.",
		}, []string{"document", "outcome"}),
		documentWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brc",
			Name:      "document_writes_total",
			Help:      "Document writes by document type and outcome.",
		}, []string{"document", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brc",
			Name:      "errors_total",
			Help:      "Errors by type and component.",
		}, []string{"type", "component"}),
		websocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "brc",
			Name:      "websocket_clients",
			Help:      "Connected document feed clients.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests,
		m.apiDuration,
		m.documentReads,
		m.documentWrites,
		m.errors,
		m.websocketClients,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordAPIRequest records one finished HTTP request.
func (m *Metrics) RecordAPIRequest(endpoint, method string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(endpoint, method, strconv.Itoa(statusCode)).Inc()
	m.apiDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordDocumentRead records a document GET outcome.
func (m *Metrics) RecordDocumentRead(document, outcome string) {
	if m == nil {
		return
	}
	m.documentReads.WithLabelValues(document, outcome).Inc()
}

// RecordDocumentWrite records a document POST outcome.
func (m *Metrics) RecordDocumentWrite(document, outcome string) {
	if m == nil {
		return
	}
	m.documentWrites.WithLabelValues(document, outcome).Inc()
}

// RecordError counts an error.
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errorType, component).Inc()
}

// WebSocketConnected adjusts the connected clients gauge by delta.
func (m *Metrics) WebSocketConnected(delta int) {
	if m == nil {
		return
	}
	m.websocketClients.Add(float64(delta))
}
