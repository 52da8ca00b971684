// Package telemetry exposes condenser counters in Prometheus format.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nicktill/tixcondenser/pkg/extract"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tix_condenser"

// Receive outcomes
const (
	OutcomeAccepted     = "accepted"
	OutcomeUndecodable  = "undecodable"
	OutcomeInvalid      = "invalid"
	OutcomeUnauthorized = "unauthorized"
	OutcomeFailed       = "failed"
)

// Metrics holds every collector on its own registry, so tests can build
// as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	received         *prometheus.CounterVec
	dropped          *prometheus.CounterVec
	batchesBuilt     prometheus.Counter
	batchesSubmitted prometheus.Counter
	reportsRetired   prometheus.Counter
	submitFailures   prometheus.Counter
	installations    prometheus.GaugeFunc

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors. installations is sampled on every scrape
// and may be nil.
func New(installations func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_received_total",
			Help:      "Reports received, by outcome.",
		}, []string{"outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_dropped_total",
			Help:      "Stored reports discarded by extraction, by reason.",
		}, []string{"reason"}),
		batchesBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_built_total",
			Help:      "Batches produced by extraction.",
		}),
		batchesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_submitted_total",
			Help:      "Batches confirmed by the submission channel.",
		}),
		reportsRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_retired_total",
			Help:      "Reports deleted after a confirmed submission.",
		}),
		submitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submit_failures_total",
			Help:      "Batches whose publication failed after every retry.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	if installations == nil {
		installations = func() int { return 0 }
	}
	m.installations = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "installations",
		Help:      "Installations known to the registry.",
	}, func() float64 { return float64(installations()) })

	m.registry.MustRegister(
		m.received,
		m.dropped,
		m.batchesBuilt,
		m.batchesSubmitted,
		m.reportsRetired,
		m.submitFailures,
		m.installations,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Received counts one report with the given outcome
func (m *Metrics) Received(outcome string) {
	m.received.WithLabelValues(outcome).Inc()
}

// Dropped implements extract.Observer
func (m *Metrics) Dropped(_ int64, reason extract.DropReason, reports int) {
	m.dropped.WithLabelValues(string(reason)).Add(float64(reports))
}

// Built implements extract.Observer
func (m *Metrics) Built(int64, int) {
	m.batchesBuilt.Inc()
}

// Submitted counts a delivered batch and the reports it retired
func (m *Metrics) Submitted(retired int) {
	m.batchesSubmitted.Inc()
	m.reportsRetired.Add(float64(retired))
}

// SubmitFailed counts a batch that could not be published
func (m *Metrics) SubmitFailed() {
	m.submitFailures.Inc()
}

// ObserveRequest implements httpx.RequestRecorder
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var _ extract.Observer = (*Metrics)(nil)
