// Package metrics holds the Prometheus collectors for the provisioning pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gtm"

var (
	stepOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "step_outcomes_total",
			Help:      "Step log entries written by product, step and status",
		},
		[]string{"product", "step", "status"},
	)

	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "step_duration_seconds",
			Help:      "Duration of a step action including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"product", "step"},
	)

	stepRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "step_retries_total",
			Help:      "Transient failures that triggered a retry",
		},
		[]string{"product", "step"},
	)

	statusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisions",
			Name:      "status_transitions_total",
			Help:      "Provision status transitions by product",
		},
		[]string{"product", "from", "to"},
	)

	pollTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "poll_ticks_total",
			Help:      "Progress poll ticks by result",
		},
		[]string{"result"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobqueue",
			Name:      "jobs_total",
			Help:      "Provisioning jobs by lifecycle event",
		},
		[]string{"event"},
	)

	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wizard",
			Name:      "submissions_total",
			Help:      "Wizard submissions by outcome stage",
		},
		[]string{"stage", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		stepOutcomesTotal,
		stepDuration,
		stepRetriesTotal,
		statusTransitionsTotal,
		pollTicksTotal,
		jobsTotal,
		submissionsTotal,
	)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordStepOutcome counts a step log entry.
func RecordStepOutcome(product string, step int, status string) {
	stepOutcomesTotal.WithLabelValues(product, stepLabel(step), status).Inc()
}

// ObserveStepDuration records how long a step action ran.
func ObserveStepDuration(product string, step int, d time.Duration) {
	stepDuration.WithLabelValues(product, stepLabel(step)).Observe(d.Seconds())
}

// RecordStepRetry counts one transient retry.
func RecordStepRetry(product string, step int) {
	stepRetriesTotal.WithLabelValues(product, stepLabel(step)).Inc()
}

// RecordStatusTransition counts a provision status change.
func RecordStatusTransition(product, from, to string) {
	statusTransitionsTotal.WithLabelValues(product, from, to).Inc()
}

// RecordPollTick counts a poller tick; result is "ok" or "error".
func RecordPollTick(result string) {
	pollTicksTotal.WithLabelValues(result).Inc()
}

// RecordJob counts a job queue event such as enqueued, completed, failed or requeued.
func RecordJob(event string) {
	jobsTotal.WithLabelValues(event).Inc()
}

// RecordSubmission counts a wizard submission outcome.
func RecordSubmission(stage, result string) {
	submissionsTotal.WithLabelValues(stage, result).Inc()
}

func stepLabel(step int) string {
	if step < 1 || step > 9 {
		return "other"
	}
	return string(rune('0' + step))
}
