// Package metrics exposes Prometheus metrics for sync runs, upstream calls and HTTP traffic.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry registers metrics on r and serves them from it.
func WithRegistry(r *prometheus.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.registerer = r
			m.gatherer = r
		}
	}
}

// Manager owns every collector. It implements weather.Recorder and providers.RequestObserver.
type Manager struct {
	namespace  string
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	syncRecords  *prometheus.CounterVec
	syncRuns     *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	lastSuccess  *prometheus.GaugeVec

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates a Manager on a private registry unless WithRegistry says otherwise.
func NewManager(opts ...Option) *Manager {
	reg := prometheus.NewRegistry()
	m := &Manager{
		namespace:  "weather",
		registerer: reg,
		gatherer:   reg,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registerer)

	m.syncRecords = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "sync",
		Name:      "records_total",
		Help:      "Upstream day records reconciled, by outcome (added, updated, skipped).",
	}, []string{"city", "outcome"})

	m.syncRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Completed sync runs by mode and status.",
	}, []string{"mode", "status"})

	m.syncDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "sync",
		Name:      "duration_seconds",
		Help:      "Wall time of sync runs.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"mode"})

	m.lastSuccess = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "sync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful sync per city.",
	}, []string{"city"})

	m.upstreamRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Requests sent to the climate data API by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	m.upstreamDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency of climate data API requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
}

func (m *Manager) RecordOutcome(city, outcome string) {
	m.syncRecords.WithLabelValues(city, outcome).Inc()
}

func (m *Manager) RecordRun(mode, city, status string, elapsed time.Duration) {
	m.syncRuns.WithLabelValues(mode, status).Inc()
	m.syncDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	if status == "success" {
		m.lastSuccess.WithLabelValues(city).SetToCurrentTime()
	}
}

func (m *Manager) ObserveRequest(endpoint, outcome string, elapsed time.Duration) {
	m.upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	m.upstreamDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// Middleware records one sample per HTTP request, labelled by the matched route pattern.
func (m *Manager) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		route := c.Route().Path
		m.httpRequests.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
