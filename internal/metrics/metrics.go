package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector collects and exposes client-side metrics. A nil *Collector is
// valid and records nothing.
type Collector struct {
	registry       *prometheus.Registry
	exportsStarted *prometheus.CounterVec
	exportsDone    *prometheus.CounterVec
	exportDuration *prometheus.HistogramVec
	streamEvents   *prometheus.CounterVec
	scheduledRuns  *prometheus.CounterVec
	server         *http.Server
}

// New creates a collector with its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		exportsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buildguard_exports_started_total",
				Help: "Export attempts started",
			},
			[]string{"trigger"},
		),
		exportsDone: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buildguard_exports_finished_total",
				Help: "Export attempts that reached a terminal state",
			},
			[]string{"mode", "outcome"},
		),
		exportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "buildguard_export_duration_seconds",
				Help:    "Time from export start to terminal state",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"mode"},
		),
		streamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buildguard_stream_events_total",
				Help: "Live stream updates by type",
			},
			[]string{"type"},
		),
		scheduledRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buildguard_scheduled_runs_total",
				Help: "Scheduled export runs by outcome",
			},
			[]string{"outcome"},
		),
	}

	c.registry.MustRegister(
		c.exportsStarted,
		c.exportsDone,
		c.exportDuration,
		c.streamEvents,
		c.scheduledRuns,
		prometheus.NewGoCollector(),
	)

	return c
}

// ExportStarted counts an export attempt
func (c *Collector) ExportStarted(trigger string) {
	if c == nil {
		return
	}
	c.exportsStarted.WithLabelValues(trigger).Inc()
}

// ExportFinished counts a terminal export and observes its duration
func (c *Collector) ExportFinished(mode, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.exportsDone.WithLabelValues(mode, outcome).Inc()
	c.exportDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// StreamEvent counts one live stream update
func (c *Collector) StreamEvent(kind string) {
	if c == nil {
		return
	}
	c.streamEvents.WithLabelValues(kind).Inc()
}

// ScheduledRun counts one scheduled export run
func (c *Collector) ScheduledRun(success bool) {
	if c == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.scheduledRuns.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr in the background
func (c *Collector) StartServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	c.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		zap.S().Infof("Serving metrics on %s/metrics", addr)
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Errorf("Metrics server failed: %v", err)
		}
	}()
}

// Shutdown stops the metrics server if it was started
func (c *Collector) Shutdown(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}
