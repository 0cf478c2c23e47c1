package proxy

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the proxy Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "coachcall").
	Namespace string

	// Subsystem is the metrics subsystem (default: "proxy").
	Subsystem string

	// Buckets are the histogram buckets for upstream latency.
	// Default: prometheus.DefBuckets.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// MetricsOption configures the proxy Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Metrics holds the Prometheus metrics for the backend proxy. A nil *Metrics
// records nothing.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	upstreamErrors   prometheus.Counter
	cookiesRewritten prometheus.Counter
}

// NewMetrics creates and registers the proxy metrics.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := MetricsConfig{
		Namespace: "coachcall",
		Subsystem: "proxy",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "requests_total",
			Help:      "Proxied requests by method and upstream status",
		}, []string{"method", "status"}),
		upstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "upstream_duration_seconds",
			Help:      "Upstream round-trip duration in seconds",
			Buckets:   cfg.Buckets,
		}, []string{"method"}),
		upstreamErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "upstream_errors_total",
			Help:      "Requests that failed before an upstream response arrived",
		}),
		cookiesRewritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cookies_rewritten_total",
			Help:      "Set-Cookie headers rewritten for the proxying domain",
		}),
	}
}

func (m *Metrics) observeRequest(method string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.upstreamDuration.WithLabelValues(method).Observe(seconds)
}

func (m *Metrics) incUpstreamError() {
	if m != nil {
		m.upstreamErrors.Inc()
	}
}

func (m *Metrics) addCookiesRewritten(n int) {
	if m != nil && n > 0 {
		m.cookiesRewritten.Add(float64(n))
	}
}
