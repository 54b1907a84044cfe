package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Prometheus collectors for the HTTP layer and the domain workflows.
type Metrics struct {
	registry          *prometheus.Registry
	requestCount      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	errorCount        *prometheus.CounterVec
	ticketTransitions *prometheus.CounterVec
	paymentOutcomes   *prometheus.CounterVec
	rateLimited       *prometheus.CounterVec
}

// NewMetrics registers collectors on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		errorCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_errors_total",
				Help: "Total HTTP errors by route, method and error code",
			},
			[]string{"route", "method", "code"},
		),
		ticketTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticket_status_transitions_total",
				Help: "Ticket status transitions",
			},
			[]string{"from", "to"},
		),
		paymentOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_verifications_total",
				Help: "Payment verification outcomes by flavor",
			},
			[]string{"flavor", "outcome"},
		),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limited_requests_total",
				Help: "Requests rejected by a rate limit policy",
			},
			[]string{"policy"},
		),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(route, method, code).Inc()
}

// RecordTicketTransition counts a ticket status change.
func (m *Metrics) RecordTicketTransition(from, to string) {
	if m == nil {
		return
	}
	m.ticketTransitions.WithLabelValues(from, to).Inc()
}

// RecordPaymentOutcome counts a verification result such as completed or signature_mismatch.
func (m *Metrics) RecordPaymentOutcome(flavor, outcome string) {
	if m == nil {
		return
	}
	m.paymentOutcomes.WithLabelValues(flavor, outcome).Inc()
}

// RecordRateLimited counts a rejected request for the named policy.
func (m *Metrics) RecordRateLimited(policy string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(policy).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
