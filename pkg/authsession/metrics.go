package authsession

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the session Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "coachcall").
	Namespace string

	// Subsystem is the metrics subsystem (default: "authsession").
	Subsystem string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// MetricsOption configures the session Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithMetricsNamespace sets the metrics namespace.
func WithMetricsNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithMetricsRegistry sets the Prometheus registry.
func WithMetricsRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Metrics holds the Prometheus metrics for the auth session subsystem.
// A nil *Metrics is valid and records nothing, so metrics stay optional.
type Metrics struct {
	refreshTotal    prometheus.Counter
	refreshJoined   prometheus.Counter
	refreshFailures prometheus.Counter
	profileFetches  prometheus.Counter
	profileFailures prometheus.Counter
	retriesAfter401 prometheus.Counter
	sessionsInvalid prometheus.Counter
}

// NewMetrics creates and registers the session metrics.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := MetricsConfig{
		Namespace: "coachcall",
		Subsystem: "authsession",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		refreshTotal:    counter("refresh_total", "Token refresh network calls issued"),
		refreshJoined:   counter("refresh_joined_total", "Refresh callers that joined an in-flight refresh instead of issuing a call"),
		refreshFailures: counter("refresh_failures_total", "Token refreshes that failed and cleared the session"),
		profileFetches:  counter("profile_fetch_total", "Profile fetch network calls issued"),
		profileFailures: counter("profile_fetch_failures_total", "Profile fetches that failed validation or transport"),
		retriesAfter401: counter("retries_after_401_total", "Requests retried once after a 401 triggered a refresh"),
		sessionsInvalid: counter("sessions_invalid_total", "Sessions logged out after a second 401 following a successful refresh"),
	}
}

func (m *Metrics) incRefresh() {
	if m != nil {
		m.refreshTotal.Inc()
	}
}

func (m *Metrics) incRefreshJoined() {
	if m != nil {
		m.refreshJoined.Inc()
	}
}

func (m *Metrics) incRefreshFailure() {
	if m != nil {
		m.refreshFailures.Inc()
	}
}

func (m *Metrics) incProfileFetch() {
	if m != nil {
		m.profileFetches.Inc()
	}
}

func (m *Metrics) incProfileFailure() {
	if m != nil {
		m.profileFailures.Inc()
	}
}

func (m *Metrics) incRetryAfter401() {
	if m != nil {
		m.retriesAfter401.Inc()
	}
}

func (m *Metrics) incSessionInvalid() {
	if m != nil {
		m.sessionsInvalid.Inc()
	}
}
