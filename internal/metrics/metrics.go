// Package metrics exposes the Prometheus collectors described in
// SPEC_FULL.md §10 (queue depth, claims, job outcomes, pipeline step
// duration). None of the teacher's packages used Prometheus directly,
// so this package is grounded on the ecosystem convention the wider
// pack uses it for (arkeep-io-arkeep, jordigilh-kubernaut,
// netobserv): a package-level registry plus a promhttp.Handler mount.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raibid_jobs_enqueued_total",
		Help: "Total number of jobs appended to the job queue.",
	})

	JobsClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raibid_jobs_claimed_total",
		Help: "Total number of job claims made by workers, including reclaims.",
	})

	JobOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "raibid_job_outcomes_total",
		Help: "Total number of jobs reaching a terminal status, by status.",
	}, []string{"status"})

	StepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "raibid_pipeline_step_duration_seconds",
		Help:    "Duration of individual pipeline steps.",
		Buckets: prometheus.DefBuckets,
	}, []string{"step", "success"})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raibid_queue_depth",
		Help: "Approximate number of entries in the jobs stream.",
	})
)

func init() {
	prometheus.MustRegister(JobsEnqueued, JobsClaimed, JobOutcomes, StepDuration, QueueDepth)
}

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
