package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronJobMetrics tracks cron-worker cycles and the jobs they run. A nil
// receiver or one built without a registerer drops every observation.
type CronJobMetrics struct {
	runs        *prometheus.HistogramVec
	succeeded   *prometheus.CounterVec
	failed      *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	skipped     prometheus.Counter
}

var cronRunBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	m := &CronJobMetrics{}
	if reg == nil {
		return m
	}
	m.runs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kiosk_cron_job_duration_seconds",
		Help:    "Wall time of each cron job run.",
		Buckets: cronRunBuckets,
	}, []string{"job"})
	m.succeeded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_cron_job_success_total",
		Help: "Cron job runs that returned no error.",
	}, []string{"job"})
	m.failed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_cron_job_failure_total",
		Help: "Cron job runs that returned an error.",
	}, []string{"job"})
	m.lastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kiosk_cron_job_last_success_timestamp_seconds",
		Help: "Unix time of the latest successful run per job.",
	}, []string{"job"})
	m.skipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_cron_cycle_skipped_total",
		Help: "Cycles skipped because another instance held the lock.",
	})
	reg.MustRegister(m.runs, m.succeeded, m.failed, m.lastSuccess, m.skipped)
	return m
}

// ObserveRun records one job execution. finished is the wall-clock time the
// run ended and feeds the last-success gauge.
func (c *CronJobMetrics) ObserveRun(job string, took time.Duration, finished time.Time, err error) {
	if c == nil || c.runs == nil {
		return
	}
	label := normalizeLabel(job)
	c.runs.WithLabelValues(label).Observe(took.Seconds())
	if err != nil {
		c.failed.WithLabelValues(label).Inc()
		return
	}
	c.succeeded.WithLabelValues(label).Inc()
	c.lastSuccess.WithLabelValues(label).Set(float64(finished.Unix()))
}

func (c *CronJobMetrics) IncSkipped() {
	if c == nil || c.skipped == nil {
		return
	}
	c.skipped.Inc()
}

func normalizeLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
