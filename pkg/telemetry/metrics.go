package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the deployment lifecycle. The
// zero-value-like instance returned when collection is disabled turns every
// recording method into a no-op.
type Metrics struct {
	config MetricsConfig

	launchesStarted   *prometheus.CounterVec
	launchesCompleted *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	pluginCalls       *prometheus.CounterVec
	pluginErrors      *prometheus.CounterVec
	healthChecks      *prometheus.CounterVec
	activeLaunches    prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		launchesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "launches_started_total",
				Help:      "Total number of deployment launches started",
			},
			[]string{"app_id"},
		),
		launchesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "launches_completed_total",
				Help:      "Total number of deployment launches completed, by final status",
			},
			[]string{"app_id", "status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of lifecycle stages",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
			},
			[]string{"stage"},
		),
		pluginCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_calls_total",
				Help:      "Total number of plugin operations invoked",
			},
			[]string{"app_id", "operation"},
		),
		pluginErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_errors_total",
				Help:      "Total number of plugin operations that returned an error",
			},
			[]string{"app_id", "operation"},
		),
		healthChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_checks_total",
				Help:      "Total number of health checks, by reported instance status",
			},
			[]string{"instance_status"},
		),
		activeLaunches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_launches",
				Help:      "Number of launches currently provisioning or configuring",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.launchesStarted, m.launchesCompleted, m.stageDuration,
		m.pluginCalls, m.pluginErrors, m.healthChecks, m.activeLaunches,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// RecordLaunchStarted increments the launch counter and active gauge.
func (m *Metrics) RecordLaunchStarted(appID string) {
	if m.registry == nil {
		return
	}
	m.launchesStarted.WithLabelValues(appID).Inc()
	m.activeLaunches.Inc()
}

// RecordLaunchCompleted records a finished launch with its terminal status.
func (m *Metrics) RecordLaunchCompleted(appID, status string) {
	if m.registry == nil {
		return
	}
	m.launchesCompleted.WithLabelValues(appID, status).Inc()
	m.activeLaunches.Dec()
}

// RecordStageDuration observes how long a lifecycle stage took.
func (m *Metrics) RecordStageDuration(stage string, d time.Duration) {
	if m.registry == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordPluginCall counts one plugin operation and, when err is non-nil, one
// plugin error.
func (m *Metrics) RecordPluginCall(appID, operation string, err error) {
	if m.registry == nil {
		return
	}
	m.pluginCalls.WithLabelValues(appID, operation).Inc()
	if err != nil {
		m.pluginErrors.WithLabelValues(appID, operation).Inc()
	}
}

// RecordHealthCheck counts one health check by reported instance status.
func (m *Metrics) RecordHealthCheck(instanceStatus string) {
	if m.registry == nil {
		return
	}
	m.healthChecks.WithLabelValues(instanceStatus).Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on the configured listen address.
func (m *Metrics) StartServer() error {
	if m.registry == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.server = &http.Server{Addr: m.config.ListenAddress, Handler: mux}
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Metrics serving is best-effort.
			_ = err
		}
	}()
	return nil
}

// Shutdown stops the metrics server, if running.
func (m *Metrics) Shutdown() error {
	if m.server == nil {
		return nil
	}
	return m.server.Close()
}
