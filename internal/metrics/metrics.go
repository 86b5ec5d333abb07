// Package metrics holds the gateway's observability registry.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gateway's prometheus instruments on a dedicated
// registry so tests and the process can each own their own instance.
type Metrics struct {
	registry *prometheus.Registry

	// requestDuration observes end-to-end request handling time.
	requestDuration *prometheus.HistogramVec

	// serviceHealth publishes the health monitor's per-instance view,
	// labeled "<serviceType>-<instance>".
	serviceHealth *prometheus.GaugeVec

	// activeConnections tracks in-flight forwarded requests.
	activeConnections prometheus.Gauge

	// breakerStatus publishes breaker state per service type
	// (CLOSED=0, OPEN=1, HALF_OPEN=2).
	breakerStatus *prometheus.GaugeVec
}

// New creates the gateway metrics on a fresh registry, including the default
// process and go runtime collectors.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "route", "status_code"},
		),
		serviceHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_health_status",
				Help: "Health status of backend service instances (1 healthy, 0 unhealthy)",
			},
			[]string{"service"},
		),
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_connections",
				Help: "Number of in-flight forwarded requests",
			},
		),
		breakerStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_status",
				Help: "Circuit breaker state per service (0 CLOSED, 1 OPEN, 2 HALF_OPEN)",
			},
			[]string{"service"},
		),
	}

	cs := []prometheus.Collector{
		m.requestDuration,
		m.serviceHealth,
		m.activeConnections,
		m.breakerStatus,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}

	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, fmt.Errorf("failed to register collector: %w", err)
			}
		}
	}

	return m, nil
}

// ObserveRequest records one handled request.
func (m *Metrics) ObserveRequest(method, route, statusCode string, seconds float64) {
	m.requestDuration.WithLabelValues(method, route, statusCode).Observe(seconds)
}

// SetInstanceHealth publishes the probe result for one instance.
func (m *Metrics) SetInstanceHealth(serviceType, instance string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.serviceHealth.WithLabelValues(serviceType + "-" + instance).Set(v)
}

// SetActiveConnections publishes the current in-flight request count.
func (m *Metrics) SetActiveConnections(n int64) {
	m.activeConnections.Set(float64(n))
}

// SetBreakerState publishes a breaker state change.
func (m *Metrics) SetBreakerState(serviceType string, state float64) {
	m.breakerStatus.WithLabelValues(serviceType).Set(state)
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the exposition handler for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
