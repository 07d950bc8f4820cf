// Package monitoring exposes Prometheus metrics and health/liveness
// endpoints for the duration of a run.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the orchestrator and scrape
// pipeline report into.
type Metrics struct {
	jobsTotal      *prometheus.CounterVec
	jobsActive     prometheus.Gauge
	jobsQueued     prometheus.Gauge
	jobDuration    *prometheus.HistogramVec
	pagesScraped   *prometheus.CounterVec
	recordsWritten *prometheus.CounterVec
	sinkErrors     *prometheus.CounterVec
}

// NewMetrics registers the framework's metric collectors under the given
// namespace/subsystem. Calling this more than once against the default
// registry would panic on duplicate registration, so callers should hold
// on to a single *Metrics for the process lifetime.
func NewMetrics(namespace, subsystem string) *Metrics {
	if namespace == "" {
		namespace = "cwsf"
	}
	if subsystem == "" {
		subsystem = "orchestrator"
	}

	return &Metrics{
		jobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "jobs_total", Help: "Total number of site scrape jobs executed, by outcome.",
		}, []string{"site_name", "status"}),

		jobsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "jobs_active", Help: "Number of site scrapes currently in flight.",
		}),

		jobsQueued: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "jobs_queued", Help: "Number of pending jobs waiting in the priority queue.",
		}),

		jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "job_duration_seconds", Help: "Site scrape job duration in seconds.",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800},
		}, []string{"site_name"}),

		pagesScraped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "pages_scraped_total", Help: "Total number of pages fetched across all sites.",
		}, []string{"site_name"}),

		recordsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "records_written_total", Help: "Total number of records written to a sink.",
		}, []string{"site_name", "format"}),

		sinkErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "sink_errors_total", Help: "Total number of sink write failures.",
		}, []string{"site_name", "format"}),
	}
}

// RecordJob reports one completed job's status and wall-clock duration.
func (m *Metrics) RecordJob(siteName, status string, duration time.Duration) {
	m.jobsTotal.WithLabelValues(siteName, status).Inc()
	m.jobDuration.WithLabelValues(siteName).Observe(duration.Seconds())
}

// SetJobsActive reports the current in-flight job count.
func (m *Metrics) SetJobsActive(n int) { m.jobsActive.Set(float64(n)) }

// SetJobsQueued reports the current pending-job count.
func (m *Metrics) SetJobsQueued(n int) { m.jobsQueued.Set(float64(n)) }

// RecordPageScraped increments the page counter for a site.
func (m *Metrics) RecordPageScraped(siteName string) {
	m.pagesScraped.WithLabelValues(siteName).Inc()
}

// RecordSinkWrite reports a successful or failed sink write.
func (m *Metrics) RecordSinkWrite(siteName, format string, records int, err error) {
	if err != nil {
		m.sinkErrors.WithLabelValues(siteName, format).Inc()
		return
	}
	m.recordsWritten.WithLabelValues(siteName, format).Add(float64(records))
}
