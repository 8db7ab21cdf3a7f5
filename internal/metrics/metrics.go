// Package metrics exposes the bridge's Prometheus metrics.
//
// A nil *Metrics is valid: every method is a no-op and Handler answers 503,
// so components can take metrics as an optional dependency.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jeedombridge"

// Discovery and event outcomes.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultRouted   = "routed"
	ResultIgnored  = "ignored"
	ResultUnknown  = "unknown"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	discoveries         *prometheus.CounterVec
	events              *prometheus.CounterVec
	devices             prometheus.Gauge
	entities            *prometheus.GaugeVec
	dispatches          *prometheus.CounterVec
	dispatchDuration    *prometheus.HistogramVec
	dispatchFallbacks   prometheus.Counter
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates a fresh Metrics registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	discoveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discovery_payloads_total",
		Help:      "Discovery payloads received, by outcome",
	}, []string{"result"})

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Command value events received, by outcome",
	}, []string{"result"})

	devices := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "devices",
		Help:      "Devices currently known to the registry",
	})

	entities := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "entities",
		Help:      "Entities produced by the last classification, by platform",
	}, []string{"platform"})

	dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatches_total",
		Help:      "Command dispatches, by final transport and outcome",
	}, []string{"transport", "status"})

	dispatchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Duration of command dispatches including any fallback attempt",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"transport"})

	dispatchFallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_fallbacks_total",
		Help:      "Dispatches that fell back from JSON-RPC to the HTTP API",
	})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by the API",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by the API",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	registry.MustRegister(
		discoveries,
		events,
		devices,
		entities,
		dispatches,
		dispatchDuration,
		dispatchFallbacks,
		httpRequests,
		httpRequestDuration,
	)

	return &Metrics{
		registry:            registry,
		discoveries:         discoveries,
		events:              events,
		devices:             devices,
		entities:            entities,
		dispatches:          dispatches,
		dispatchDuration:    dispatchDuration,
		dispatchFallbacks:   dispatchFallbacks,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
	}
}

// ObserveDiscovery counts one discovery payload.
func (m *Metrics) ObserveDiscovery(result string) {
	if m == nil {
		return
	}
	m.discoveries.WithLabelValues(result).Inc()
}

// ObserveEvent counts one event payload.
func (m *Metrics) ObserveEvent(result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(result).Inc()
}

// SetDevices records the registry size.
func (m *Metrics) SetDevices(n int) {
	if m == nil {
		return
	}
	m.devices.Set(float64(n))
}

// SetEntities replaces the per-platform entity gauge.
func (m *Metrics) SetEntities(counts map[string]int) {
	if m == nil {
		return
	}
	m.entities.Reset()
	for platform, n := range counts {
		m.entities.WithLabelValues(platform).Set(float64(n))
	}
}

// ObserveDispatch records a finished dispatch.
func (m *Metrics) ObserveDispatch(transport string, success, fallback bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.dispatches.WithLabelValues(transport, status).Inc()
	m.dispatchDuration.WithLabelValues(transport).Observe(duration.Seconds())
	if fallback {
		m.dispatchFallbacks.Inc()
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
