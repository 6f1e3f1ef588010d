package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision sources.
const (
	SourceAlgorithm = "algorithm"
	SourcePush      = "push"
)

// Metrics holds Prometheus counters and gauges for the proxy.
// A nil *Metrics records nothing.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        *prometheus.CounterVec
	errorsTotal          *prometheus.CounterVec
	activeSessions       prometheus.Gauge
	sessionsEndedTotal   prometheus.Counter
	segmentRequests      *prometheus.CounterVec
	correlationsFired    prometheus.Counter
	callbackFailures     prometheus.Counter
	fulfillTimeouts      prometheus.Counter
	decisionsTotal       *prometheus.CounterVec
	defaultQualityTotal  prometheus.Counter
	backendFailuresTotal prometheus.Counter
}

// New creates and registers Prometheus metrics for the proxy.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abr_http_requests_total",
			Help: "HTTP requests received, by route pattern",
		}, []string{"route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abr_http_errors_total",
			Help: "HTTP responses with a 4xx or 5xx status, by route pattern",
		}, []string{"route"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "abr_active_sessions",
			Help: "Number of playback sessions not yet ended",
		}),
		sessionsEndedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_sessions_ended_total",
			Help: "Total number of playback sessions ended",
		}),
		segmentRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abr_segment_requests_total",
			Help: "Segment requests seen by the media proxy, by kind and verdict",
		}, []string{"kind", "verdict"}),
		correlationsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_correlations_fired_total",
			Help: "Total number of correlation slots that fired",
		}),
		callbackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_callback_failures_total",
			Help: "Total number of consumer callbacks that panicked",
		}),
		fulfillTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_fulfill_timeouts_total",
			Help: "Suppressed requests released after waiting too long for a decision",
		}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abr_decisions_total",
			Help: "Decisions inserted into the decision cache, by source",
		}, []string{"source"}),
		defaultQualityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_default_quality_total",
			Help: "Quality queries answered with the default quality",
		}),
		backendFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_backend_failures_total",
			Help: "Decision requests that failed",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.activeSessions,
		m.sessionsEndedTotal,
		m.segmentRequests,
		m.correlationsFired,
		m.callbackFailures,
		m.fulfillTimeouts,
		m.decisionsTotal,
		m.defaultQualityTotal,
		m.backendFailuresTotal,
	)
	return m
}

// ObserveRequest counts one served request and, for status >= 400, one error.
func (m *Metrics) ObserveRequest(route string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route).Inc()
	if status >= 400 {
		m.errorsTotal.WithLabelValues(route).Inc()
	}
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.activeSessions.Set(float64(n))
	}
}

// IncSessionsEnded increments the sessions ended counter.
func (m *Metrics) IncSessionsEnded() {
	if m != nil {
		m.sessionsEndedTotal.Inc()
	}
}

// IncSegmentRequest counts one segment request by kind and verdict.
func (m *Metrics) IncSegmentRequest(kind, verdict string) {
	if m != nil {
		m.segmentRequests.WithLabelValues(kind, verdict).Inc()
	}
}

// IncCorrelationsFired increments the fired correlations counter.
func (m *Metrics) IncCorrelationsFired() {
	if m != nil {
		m.correlationsFired.Inc()
	}
}

// IncCallbackFailures increments the callback failures counter.
func (m *Metrics) IncCallbackFailures() {
	if m != nil {
		m.callbackFailures.Inc()
	}
}

// IncFulfillTimeouts increments the fulfill timeouts counter.
func (m *Metrics) IncFulfillTimeouts() {
	if m != nil {
		m.fulfillTimeouts.Inc()
	}
}

// IncDecisions counts one inserted decision from source.
func (m *Metrics) IncDecisions(source string) {
	if m != nil {
		m.decisionsTotal.WithLabelValues(source).Inc()
	}
}

// IncDefaultQuality increments the default quality counter.
func (m *Metrics) IncDefaultQuality() {
	if m != nil {
		m.defaultQualityTotal.Inc()
	}
}

// IncBackendFailures increments the backend failures counter.
func (m *Metrics) IncBackendFailures() {
	if m != nil {
		m.backendFailuresTotal.Inc()
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
