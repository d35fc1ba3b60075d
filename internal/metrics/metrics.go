// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "twinledger"

// Metrics groups the service's collectors on one registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	JobTransitions  *prometheus.CounterVec
	BeliefWrites    *prometheus.CounterVec
	Escalations     *prometheus.CounterVec
	ConfidenceScore prometheus.Histogram
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Job status transitions by job type and target status.",
		}, []string{"type", "to"}),
		BeliefWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "belief_writes_total",
			Help:      "Belief lifecycle writes by operation.",
		}, []string{"op"}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalation_decisions_total",
			Help:      "Escalation routing decisions by outcome.",
		}, []string{"outcome"}),
		ConfidenceScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_confidence",
			Help:      "Confidence scores of routed answers.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.JobTransitions,
		m.BeliefWrites,
		m.Escalations,
		m.ConfidenceScore,
		m.HTTPRequests,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) JobTransition(jobType, to string) {
	if m == nil {
		return
	}
	m.JobTransitions.WithLabelValues(jobType, to).Inc()
}

func (m *Metrics) BeliefWrite(op string) {
	if m == nil {
		return
	}
	m.BeliefWrites.WithLabelValues(op).Inc()
}

func (m *Metrics) Escalation(escalated bool, confidence float64) {
	if m == nil {
		return
	}
	outcome := "answered"
	if escalated {
		outcome = "escalated"
	}
	m.Escalations.WithLabelValues(outcome).Inc()
	m.ConfidenceScore.Observe(confidence)
}

// ObserveRequest records one HTTP request. route is the matched route
// pattern, not the raw path, so ids do not explode the label space.
func (m *Metrics) ObserveRequest(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
