package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the server's Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "roomverse").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for event handling duration.
	// Default: prometheus.DefBuckets.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) { c.Namespace = namespace }
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) { c.ConstLabels = labels }
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) { c.Buckets = buckets }
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) { c.Registry = registry }
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "roomverse",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// metrics holds the Prometheus collectors for the presence server.
type metrics struct {
	participants  prometheus.Gauge
	eventsTotal   *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	broadcasts    prometheus.Counter
	relays        *prometheus.CounterVec
	loginRejects  prometheus.Counter
	livenessKills prometheus.Counter
	sendDrops     prometheus.Counter
}

// resolveMetricsConfig applies options over the defaults.
func resolveMetricsConfig(opts ...MetricsOption) MetricsConfig {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// newMetrics registers the server metrics with the configured registry.
func newMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		participants: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "participants",
			Help:        "Number of currently connected participants",
			ConstLabels: config.ConstLabels,
		}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "events_total",
			Help:        "Total number of client events processed",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),
		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "event_duration_seconds",
			Help:        "Event handling duration in seconds",
			Buckets:     config.Buckets,
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),
		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "snapshot_broadcasts_total",
			Help:        "Total number of full-snapshot broadcasts",
			ConstLabels: config.ConstLabels,
		}),
		relays: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "relays_total",
			Help:        "Total number of relayed ephemeral messages",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),
		loginRejects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "login_rejects_total",
			Help:        "Total number of rejected logins",
			ConstLabels: config.ConstLabels,
		}),
		livenessKills: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "liveness_removals_total",
			Help:        "Total number of connections removed by the liveness monitor",
			ConstLabels: config.ConstLabels,
		}),
		sendDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "send_drops_total",
			Help:        "Total number of messages dropped on full send queues",
			ConstLabels: config.ConstLabels,
		}),
	}
}
