package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "push_engine"

// Delivery outcomes recorded per push service host.
const (
	OutcomeSent   = "sent"
	OutcomeGone   = "gone"
	OutcomeFailed = "failed"
)

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	deliveriesTotal         *prometheus.CounterVec
	deliveryDuration        *prometheus.HistogramVec
	pendingEnqueuedTotal    *prometheus.CounterVec
	pendingDrainedTotal     prometheus.Counter
	subscriptionsRegistered prometheus.Counter
	subscriptionsRemoved    *prometheus.CounterVec
	dispatchInflight        prometheus.Gauge
	dispatchJobsTotal       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "push_deliveries_total",
				Help:      "Push deliveries grouped by push service host and outcome.",
			},
			[]string{"push_service", "outcome"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "push_delivery_duration_seconds",
				Help:      "Push service call duration in seconds grouped by host.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"push_service"},
		),
		pendingEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "pending_enqueued_total",
				Help:      "Payloads parked for later delivery grouped by reason.",
			},
			[]string{"reason"},
		),
		pendingDrainedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "pending_drained_total",
				Help:      "Pending payloads delivered after a subscription was registered.",
			},
		),
		subscriptionsRegistered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "subscriptions_registered_total",
				Help:      "Subscriptions created or replaced.",
			},
		),
		subscriptionsRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "subscriptions_removed_total",
				Help:      "Subscriptions deleted grouped by reason.",
			},
			[]string{"reason"},
		),
		dispatchInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_inflight",
				Help:      "Deliveries currently running inside a dispatch fan-out.",
			},
		),
		dispatchJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_jobs_total",
				Help:      "Queued dispatch jobs processed by the worker grouped by result.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.deliveriesTotal,
		m.deliveryDuration,
		m.pendingEnqueuedTotal,
		m.pendingDrainedTotal,
		m.subscriptionsRegistered,
		m.subscriptionsRemoved,
		m.dispatchInflight,
		m.dispatchJobsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDelivery records one push service call.
func (m *Metrics) ObserveDelivery(pushService, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	service := normalizeLabel(pushService)
	m.deliveriesTotal.WithLabelValues(service, normalizeLabel(outcome)).Inc()

	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliveryDuration.WithLabelValues(service).Observe(seconds)
}

func (m *Metrics) IncPendingEnqueued(reason string) {
	if m == nil {
		return
	}
	m.pendingEnqueuedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncPendingDrained() {
	if m == nil {
		return
	}
	m.pendingDrainedTotal.Inc()
}

func (m *Metrics) IncSubscriptionRegistered() {
	if m == nil {
		return
	}
	m.subscriptionsRegistered.Inc()
}

func (m *Metrics) AddSubscriptionsRemoved(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.subscriptionsRemoved.WithLabelValues(normalizeLabel(reason)).Add(float64(n))
}

func (m *Metrics) IncDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Inc()
}

func (m *Metrics) DecDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Dec()
}

func (m *Metrics) IncDispatchJob(result string) {
	if m == nil {
		return
	}
	m.dispatchJobsTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
