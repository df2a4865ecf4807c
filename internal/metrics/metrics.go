// Package metrics exposes Prometheus counters for watch mode.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds the watch-loop instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal   prometheus.Counter
	ProbeFailures prometheus.Counter
	Deviations    *prometheus.CounterVec
}

// New creates and registers the watch-loop metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_probe_cycles_total",
			Help: "Number of completed probe cycles.",
		}),
		ProbeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_probe_failures_total",
			Help: "Number of probe source failures across all cycles.",
		}),
		Deviations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_deviations_total",
			Help: "Number of drift findings by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(m.CyclesTotal, m.ProbeFailures, m.Deviations)
	return m
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	log.WithField("addr", addr).Info("Metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("Metrics server error")
	}
}
