// Package metrics exposes Prometheus metrics for plugin discovery and lifecycle.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/harun/pluginhost/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the plugin host. It is a
// plugin.Observer.
type Metrics struct {
	registry *prometheus.Registry

	// Discovery metrics
	ScansTotal       *prometheus.CounterVec
	ScanDuration     prometheus.Histogram
	ScanRootErrors   prometheus.Counter
	PluginsByOutcome *prometheus.GaugeVec

	// Lifecycle metrics
	PluginsActive    prometheus.Gauge
	TransitionsTotal *prometheus.CounterVec
	HookDuration     *prometheus.HistogramVec
	HookErrorsTotal  *prometheus.CounterVec

	mu     sync.Mutex
	active map[string]bool
}

var _ plugin.Observer = (*Metrics)(nil)

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		active:   make(map[string]bool),

		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluginhost_scans_total",
				Help: "Total number of discovery scans",
			},
			[]string{"force"},
		),
		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pluginhost_scan_duration_seconds",
				Help:    "Duration of discovery scans in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		ScanRootErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pluginhost_scan_root_errors_total",
				Help: "Total number of unreadable tier roots",
			},
		),
		PluginsByOutcome: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pluginhost_plugins",
				Help: "Plugins seen by the last scan by outcome",
			},
			[]string{"outcome"},
		),

		PluginsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pluginhost_plugins_active",
				Help: "Number of currently active plugins",
			},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluginhost_state_transitions_total",
				Help: "Total number of plugin state transitions",
			},
			[]string{"from", "to"},
		),
		HookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pluginhost_hook_duration_seconds",
				Help:    "Duration of plugin lifecycle hooks in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"hook"},
		),
		HookErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluginhost_hook_errors_total",
				Help: "Total number of failed plugin lifecycle hooks",
			},
			[]string{"hook", "error_type"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.ScansTotal)
	m.registry.MustRegister(m.ScanDuration)
	m.registry.MustRegister(m.ScanRootErrors)
	m.registry.MustRegister(m.PluginsByOutcome)

	m.registry.MustRegister(m.PluginsActive)
	m.registry.MustRegister(m.TransitionsTotal)
	m.registry.MustRegister(m.HookDuration)
	m.registry.MustRegister(m.HookErrorsTotal)
}

// ScanCompleted records a discovery pass
func (m *Metrics) ScanCompleted(_ context.Context, s plugin.ScanSummary) {
	force := "false"
	if s.Force {
		force = "true"
	}
	m.ScansTotal.WithLabelValues(force).Inc()
	m.ScanDuration.Observe(s.Duration.Seconds())
	m.ScanRootErrors.Add(float64(s.RootErrors))

	m.PluginsByOutcome.WithLabelValues("visible").Set(float64(s.Visible))
	m.PluginsByOutcome.WithLabelValues("shadowed").Set(float64(s.Shadowed))
	m.PluginsByOutcome.WithLabelValues("invalid").Set(float64(s.Invalid))
	m.PluginsByOutcome.WithLabelValues("failed").Set(float64(s.Failed))
}

// StateChanged records a transition and keeps the active gauge current
func (m *Metrics) StateChanged(_ context.Context, rec plugin.Record, from plugin.State) {
	m.TransitionsTotal.WithLabelValues(string(from), string(rec.Status)).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Status == plugin.StateActive {
		m.active[rec.ID] = true
	} else {
		delete(m.active, rec.ID)
	}
	m.PluginsActive.Set(float64(len(m.active)))
}

// HookCompleted records a lifecycle hook run
func (m *Metrics) HookCompleted(_ context.Context, _ string, hook string, elapsed time.Duration, err error) {
	m.HookDuration.WithLabelValues(hook).Observe(elapsed.Seconds())
	if err == nil {
		return
	}
	errType := "error"
	if errors.Is(err, plugin.ErrHookTimeout) {
		errType = "timeout"
	}
	m.HookErrorsTotal.WithLabelValues(hook, errType).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
