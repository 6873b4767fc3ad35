package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fulfillment"

// OutcomeSkipped marks a cron run lost to another worker holding the lock.
const OutcomeSkipped = "skipped"

// CronJobMetrics tracks scheduled job runs. A nil value records nothing.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return nil
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "runs_total",
			Help:      "Cron job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "run_duration_seconds",
			Help:      "Wall time of cron job runs that held the lock.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess)
	return m
}

// Skipped counts a run that never started.
func (m *CronJobMetrics) Skipped(job string) {
	m.record(job, OutcomeSkipped)
}

// Failed counts a run that could not start, e.g. a lock backend error.
func (m *CronJobMetrics) Failed(job string) {
	m.record(job, OutcomeFailed)
}

// Finished records a run that executed, successfully or not.
func (m *CronJobMetrics) Finished(job string, took time.Duration, err error, at time.Time) {
	if m == nil {
		return
	}
	job = jobLabel(job)
	m.duration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		m.record(job, OutcomeFailed)
		return
	}
	m.record(job, OutcomeSuccess)
	m.lastSuccess.WithLabelValues(job).Set(float64(at.Unix()))
}

func (m *CronJobMetrics) record(job, outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(jobLabel(job), outcome).Inc()
}

func jobLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
