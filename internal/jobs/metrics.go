// Package jobmetrics instruments background task handlers.
package jobmetrics

import (
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded for a task run.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeDropped = "dropped"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	dropped  *prometheus.CounterVec
}

// NewMetrics registers the job metrics against registerer. A nil registerer
// yields nil metrics, which record nothing.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return nil
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_jobs_total",
			Help: "Task runs by task type and outcome.",
		}, []string{"task", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_job_duration_seconds",
			Help:    "Task run duration by task type.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"task"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_jobs_dropped_total",
			Help: "Tasks discarded without retry, by task type.",
		}, []string{"task"}),
	}
	registerer.MustRegister(m.runs, m.duration, m.dropped)
	return m
}

// Tracker measures one task run.
type Tracker struct {
	metrics *Metrics
	task    string
	start   time.Time
}

// Track starts a tracker for task.
func (m *Metrics) Track(task string) *Tracker {
	return &Tracker{metrics: m, task: task, start: time.Now()}
}

// End records the run and returns err untouched. Errors wrapping
// asynq.SkipRetry count as dropped, any other error as a retry.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	outcome := Outcome(err)
	if outcome == OutcomeDropped {
		t.metrics.dropped.WithLabelValues(t.task).Inc()
	}
	t.metrics.runs.WithLabelValues(t.task, outcome).Inc()
	t.metrics.duration.WithLabelValues(t.task).Observe(time.Since(t.start).Seconds())
	return err
}

// Outcome classifies a handler result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, asynq.SkipRetry):
		return OutcomeDropped
	default:
		return OutcomeRetry
	}
}
