package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for reconciliation runs.
type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	entities       *prometheus.CounterVec
	duration       prometheus.Histogram
	platformErrors *prometheus.CounterVec
}

// NewMetrics creates a metrics set registered on its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "guildkeeper",
				Subsystem: "reconcile",
				Name:      "runs_total",
				Help:      "Reconciliation runs by outcome.",
			},
			[]string{"outcome"},
		),
		entities: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "guildkeeper",
				Subsystem: "reconcile",
				Name:      "entities_total",
				Help:      "Entities processed by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "guildkeeper",
				Subsystem: "reconcile",
				Name:      "duration_seconds",
				Help:      "Reconciliation run duration in seconds.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		platformErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "guildkeeper",
				Subsystem: "platform",
				Name:      "errors_total",
				Help:      "Platform API errors by code.",
			},
			[]string{"code"},
		),
	}
	m.registry.MustRegister(m.runs, m.entities, m.duration, m.platformErrors)
	return m
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics set.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRun records a completed run with its outcome (completed, partial,
// failed, dry_run, rejected).
func (m *Metrics) RecordRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.duration.Observe(d.Seconds())
	}
}

// RecordEntity records one entity outcome (created, adopted, skipped, failed, planned).
func (m *Metrics) RecordEntity(kind, outcome string) {
	if m == nil {
		return
	}
	m.entities.WithLabelValues(kind, outcome).Inc()
}

// RecordPlatformError records an API error code.
func (m *Metrics) RecordPlatformError(code int) {
	if m == nil {
		return
	}
	m.platformErrors.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Handler returns an HTTP handler that serves the metrics in Prometheus format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics and /healthz on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
