// Package jobmetrics tracks background job executions for Prometheus.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the job-level Prometheus collectors.
type Metrics struct {
	runs           *prometheus.CounterVec
	failures       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	expiredBatches prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Default returns the process-wide job metrics, registering the collectors on
// first use.
func Default(reg prometheus.Registerer) *Metrics {
	once.Do(func() {
		metrics = build(reg)
	})
	return metrics
}

func build(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_jobs_total",
			Help: "Background job executions by job name and result.",
		}, []string{"job", "result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_jobs_failures_total",
			Help: "Background job failures by job name.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meridian_job_duration_seconds",
			Help:    "Background job duration by job name.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"job"}),
		expiredBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meridian_expired_batches_total",
			Help: "Batches flagged by the expiry scan that still carry stock.",
		}),
	}
	reg.MustRegister(m.runs, m.failures, m.duration, m.expiredBatches)
	return m
}

// Tracker measures one job execution.
type Tracker struct {
	metrics *Metrics
	job     string
	started time.Time
}

// Track starts measuring a job run. Always pair with End.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, started: time.Now()}
}

// End finalises the run, recording duration and outcome.
func (t *Tracker) End(err error) {
	if t == nil || t.metrics == nil {
		return
	}
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.started).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, result).Inc()
}

// AddExpiredBatches counts batches reported by the expiry scan.
func (m *Metrics) AddExpiredBatches(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expiredBatches.Add(float64(n))
}
