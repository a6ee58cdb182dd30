// Package metrics holds the Prometheus collectors shared by the dispatcher,
// the transports and the cache flush loop.
//
// Metrics collected:
//   - servermanager_actions_total: actions by protocol and status
//   - servermanager_action_duration_seconds: listener latency by protocol
//   - servermanager_http_responses_total: POST/GET responses by status code
//   - servermanager_sessions_active: live sessions by transport
//   - servermanager_broadcasts_total: published broadcast entries
//   - servermanager_cache_flush_total: cache flushes by result
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "servermanager").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for action duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "servermanager",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics is the collector set.
type Metrics struct {
	actionsTotal   *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	httpResponses  *prometheus.CounterVec
	sessionsActive *prometheus.GaugeVec
	broadcasts     prometheus.Counter
	cacheFlushes   *prometheus.CounterVec
}

// New registers the collectors on the configured registry.
// Registering twice on the same registry panics, as with promauto.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		actionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "actions_total",
			Help:        "Total number of dispatched actions",
			ConstLabels: config.ConstLabels,
		}, []string{"protocol", "status"}),

		actionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "action_duration_seconds",
			Help:        "Time from dispatch to response in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"protocol"}),

		httpResponses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "http_responses_total",
			Help:        "Total HTTP responses by status code",
			ConstLabels: config.ConstLabels,
		}, []string{"code"}),

		sessionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_active",
			Help:        "Number of live sessions by transport",
			ConstLabels: config.ConstLabels,
		}, []string{"transport"}),

		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "broadcasts_total",
			Help:        "Total number of published broadcasts",
			ConstLabels: config.ConstLabels,
		}),

		cacheFlushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "cache_flush_total",
			Help:        "Cache flush attempts by result",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),
	}
}

// RecordAction counts one resolved action and observes its latency.
func (m *Metrics) RecordAction(protocol, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(protocol, status).Inc()
	m.actionDuration.WithLabelValues(protocol).Observe(d.Seconds())
}

// RecordHTTPResponse counts one HTTP response.
func (m *Metrics) RecordHTTPResponse(code int) {
	if m == nil {
		return
	}
	m.httpResponses.WithLabelValues(strconv.Itoa(code)).Inc()
}

// SetSessions sets the live session gauge for a transport.
func (m *Metrics) SetSessions(transport string, n int) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(transport).Set(float64(n))
}

// RecordBroadcast counts one published broadcast.
func (m *Metrics) RecordBroadcast() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}

// RecordFlush counts one flush attempt. Results: "written", "clean", "error".
func (m *Metrics) RecordFlush(wrote bool, err error) {
	if m == nil {
		return
	}
	result := "clean"
	switch {
	case err != nil:
		result = "error"
	case wrote:
		result = "written"
	}
	m.cacheFlushes.WithLabelValues(result).Inc()
}
