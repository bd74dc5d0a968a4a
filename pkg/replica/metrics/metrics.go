// Package metrics provides Prometheus metrics for the replica daemon.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jamesainslie/replica/pkg/replica/driver"
	"github.com/jamesainslie/replica/pkg/replica/journal"
)

// Metrics holds the collectors for one daemon.
type Metrics struct {
	passesTotal     *prometheus.CounterVec
	passDuration    prometheus.Histogram
	passErrorsTotal *prometheus.CounterVec
	actionsTotal    *prometheus.CounterVec
	bytesCopied     prometheus.Counter
	filesCompared   prometheus.Counter
	lastPass        prometheus.Gauge
	lastSuccess     prometheus.Gauge
	lastPassActions prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		passesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replica_passes_total",
				Help: "Total number of reconciliation passes",
			},
			[]string{"result"},
		),
		passDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "replica_pass_duration_seconds",
				Help:    "Reconciliation pass duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		passErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replica_pass_errors_total",
				Help: "Failed passes by error kind",
			},
			[]string{"kind"},
		),
		actionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replica_actions_total",
				Help: "Actions applied to the replica",
			},
			[]string{"kind"},
		),
		bytesCopied: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "replica_bytes_copied_total",
				Help: "Total bytes copied into the replica",
			},
		),
		filesCompared: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "replica_files_compared_total",
				Help: "Files present on both sides and compared by hash",
			},
		),
		lastPass: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "replica_last_pass_timestamp_seconds",
				Help: "Unix time the last pass finished",
			},
		),
		lastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "replica_last_success_timestamp_seconds",
				Help: "Unix time the last successful pass finished",
			},
		),
		lastPassActions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "replica_last_pass_actions",
				Help: "Number of actions applied by the last pass",
			},
		),
	}

	for _, k := range journal.Kinds {
		m.actionsTotal.WithLabelValues(k.String())
	}
	m.passesTotal.WithLabelValues("success")
	m.passesTotal.WithLabelValues("failure")

	return m
}

// Record counts one applied action. It lets Metrics act as a journal sink.
func (m *Metrics) Record(a journal.Action) error {
	m.actionsTotal.WithLabelValues(a.Kind.String()).Inc()
	m.bytesCopied.Add(float64(a.Bytes))
	return nil
}

// ObservePass records the outcome of a finished pass.
func (m *Metrics) ObservePass(p driver.Pass) {
	m.passDuration.Observe(p.Duration().Seconds())
	m.filesCompared.Add(float64(p.Stats.FilesCompared))
	m.lastPass.Set(float64(p.Finished.Unix()))
	m.lastPassActions.Set(float64(p.Stats.Actions()))

	if p.Failed() {
		m.passesTotal.WithLabelValues("failure").Inc()
		kind := p.ErrKind
		if kind == "" {
			kind = "other"
		}
		m.passErrorsTotal.WithLabelValues(kind).Inc()
		return
	}

	m.passesTotal.WithLabelValues("success").Inc()
	m.lastSuccess.Set(float64(p.Finished.Unix()))
}

// Handler returns the Prometheus metrics HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, g)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, ln net.Listener, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
