// Package metrics exposes job activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"docsync-go/internal/docsync"
)

// JobMetrics implements docsync.JobObserver.
type JobMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

var _ docsync.JobObserver = (*JobMetrics)(nil)

// NewJobMetrics registers the job metrics with reg.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	factory := promauto.With(reg)
	return &JobMetrics{
		total: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsync_jobs_total",
				Help: "Finished backup and import jobs by type and terminal status",
			},
			[]string{"type", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docsync_job_duration_seconds",
				Help:    "Job duration in seconds, including time spent waiting for the repository lock",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"type"},
		),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docsync_jobs_in_flight",
			Help: "Jobs dispatched and not yet finished",
		}),
	}
}

func (m *JobMetrics) JobStarted(docsync.JobType) {
	m.inFlight.Inc()
}

func (m *JobMetrics) JobFinished(job *docsync.BackupJob, d time.Duration) {
	m.inFlight.Dec()
	m.total.WithLabelValues(string(job.JobType), string(job.Status)).Inc()
	m.duration.WithLabelValues(string(job.JobType)).Observe(d.Seconds())
}
