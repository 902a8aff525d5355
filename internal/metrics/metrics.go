// Package metrics implements the optional Prometheus exposition surface
// (C11): purely observational counters/gauges/histogram mirroring the
// progress record, served only when --metrics-addr is given. Absent the
// flag, the collectors are still created and updated in memory, but no
// listener opens.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the five collectors named in the component design.
type Metrics struct {
	JobsTotal       prometheus.Gauge
	JobsDone        prometheus.Gauge
	HostsInProgress prometheus.Gauge
	BytesSentTotal  prometheus.Counter
	JobDuration     prometheus.Histogram

	registry *prometheus.Registry
}

// New constructs a fresh registry with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		JobsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rsnap_jobs_total", Help: "Total jobs scheduled for the current run.",
		}),
		JobsDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rsnap_jobs_done", Help: "Jobs completed so far in the current run.",
		}),
		HostsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rsnap_hosts_in_progress", Help: "Hosts with at least one in-flight job.",
		}),
		BytesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsnap_bytes_sent_mb_total", Help: "Cumulative MB transferred across all jobs.",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rsnap_job_duration_seconds",
			Help:    "Per-job sync duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~2h
		}),
		registry: reg,
	}

	reg.MustRegister(m.JobsTotal, m.JobsDone, m.HostsInProgress, m.BytesSentTotal, m.JobDuration)
	return m
}

// Serve starts the /metrics HTTP listener on addr and blocks until ctx is
// cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
