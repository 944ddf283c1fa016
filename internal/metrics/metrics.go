// Package metrics records pipeline counters as structured log lines and as
// Prometheus series served on /metrics.
package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OstapBender-commits/ema-signal-bot/internal/logging"
	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
)

const namespace = "ema_signal_bot"

// MetricsCollector owns a private Prometheus registry. All methods are safe
// on a nil receiver so callers and tests can run without metrics.
type MetricsCollector struct {
	logger      *slog.Logger
	serviceName string
	registry    *prometheus.Registry

	signals       *prometheus.CounterVec
	suppressed    *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	notifications *prometheus.CounterVec
	tickDuration  *prometheus.HistogramVec
	watched       prometheus.Gauge
}

func NewMetricsCollector(logger logging.Logger, serviceName string) *MetricsCollector {
	reg := prometheus.NewRegistry()
	c := &MetricsCollector{
		logger:      logger.WithComponent("metrics"),
		serviceName: serviceName,
		registry:    reg,
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_emitted_total",
			Help:      "Signals sent to the chat.",
		}, []string{"symbol", "side", "kind"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_suppressed_total",
			Help:      "Detector hits that did not become alerts.",
		}, []string{"reason"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Pipeline stage failures by stage and kind.",
		}, []string{"stage", "kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Telegram messages by type and outcome.",
		}, []string{"type", "status"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent on one fetch-compute-evaluate-notify pass.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"symbol"}),
		watched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watched_symbols",
			Help:      "Symbols currently scanned.",
		}),
	}
	reg.MustRegister(
		c.signals, c.suppressed, c.stageFailures, c.notifications, c.tickDuration, c.watched,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *MetricsCollector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *MetricsCollector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *MetricsCollector) RecordSignal(sig *models.Signal) {
	if c == nil || sig == nil {
		return
	}
	c.signals.WithLabelValues(sig.Symbol, string(sig.Side), string(sig.Kind)).Inc()
	c.logger.Info("metric",
		"name", "signals_emitted",
		"service", c.serviceName,
		"symbol", sig.Symbol,
		"side", string(sig.Side),
		"kind", string(sig.Kind),
	)
}

func (c *MetricsCollector) RecordSuppressed(reason string) {
	if c == nil {
		return
	}
	c.suppressed.WithLabelValues(reason).Inc()
	c.logger.Debug("metric", "name", "signals_suppressed", "reason", reason)
}

func (c *MetricsCollector) RecordStageFailure(stage, kind string) {
	if c == nil {
		return
	}
	c.stageFailures.WithLabelValues(stage, kind).Inc()
	c.logger.Debug("metric", "name", "stage_failures", "stage", stage, "kind", kind)
}

func (c *MetricsCollector) RecordNotification(kind string, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.notifications.WithLabelValues(kind, status).Inc()
	c.logger.Debug("metric", "name", "notifications", "type", kind, "status", status)
}

func (c *MetricsCollector) RecordTick(symbol string, d time.Duration) {
	if c == nil {
		return
	}
	c.tickDuration.WithLabelValues(symbol).Observe(d.Seconds())
}

func (c *MetricsCollector) SetWatched(n int) {
	if c == nil {
		return
	}
	c.watched.Set(float64(n))
}
