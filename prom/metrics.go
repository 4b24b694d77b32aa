// Package prom exposes eventq runner and maintenance telemetry as
// Prometheus collectors.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/velmie/eventq"
)

// Metrics implements eventq.Metrics on Prometheus collectors. Each
// instance carries its own registry, so multiple queues in one process
// do not collide.
type Metrics struct {
	registry      *prometheus.Registry
	batchDuration prometheus.Histogram
	completed     prometheus.Counter
	errors        prometheus.Counter
	retried       prometheus.Counter
	deadLettered  prometheus.Counter
	reclaimed     prometheus.Counter
	swept         prometheus.Counter
	queueDepth    *prometheus.GaugeVec
}

var _ eventq.Metrics = (*Metrics)(nil)

// NewMetrics builds and registers the eventq collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventq_batch_duration_seconds",
			Help:    "Time spent processing one claimed batch",
			Buckets: prometheus.DefBuckets,
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventq_completed_total",
			Help: "Total number of items processed successfully",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventq_errors_total",
			Help: "Total number of handler failures",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventq_retried_total",
			Help: "Total number of items scheduled for another attempt",
		}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventq_dead_letter_total",
			Help: "Total number of items parked in the dead letter state",
		}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventq_reclaimed_total",
			Help: "Total number of stuck items returned to pending",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventq_swept_total",
			Help: "Total number of completed items removed by cleanup",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eventq_queue_depth",
			Help: "Number of items per source and status",
		}, []string{"source", "status"}),
	}

	m.registry.MustRegister(
		m.batchDuration,
		m.completed,
		m.errors,
		m.retried,
		m.deadLettered,
		m.reclaimed,
		m.swept,
		m.queueDepth,
	)

	return m
}

// ObserveBatchDuration implements eventq.Metrics.
func (m *Metrics) ObserveBatchDuration(duration time.Duration) {
	m.batchDuration.Observe(duration.Seconds())
}

// AddCompleted implements eventq.Metrics.
func (m *Metrics) AddCompleted(count int) { m.completed.Add(float64(count)) }

// AddErrors implements eventq.Metrics.
func (m *Metrics) AddErrors(count int) { m.errors.Add(float64(count)) }

// AddRetried implements eventq.Metrics.
func (m *Metrics) AddRetried(count int) { m.retried.Add(float64(count)) }

// AddDeadLettered implements eventq.Metrics.
func (m *Metrics) AddDeadLettered(count int) { m.deadLettered.Add(float64(count)) }

// AddReclaimed implements eventq.Metrics.
func (m *Metrics) AddReclaimed(count int) { m.reclaimed.Add(float64(count)) }

// AddSwept implements eventq.Metrics.
func (m *Metrics) AddSwept(count int) { m.swept.Add(float64(count)) }

// SetQueueDepth implements eventq.Metrics.
func (m *Metrics) SetQueueDepth(source eventq.Source, status eventq.Status, count int64) {
	m.queueDepth.WithLabelValues(string(source), string(status)).Set(float64(count))
}

// ObserveHealth publishes a health report through the queue depth gauge.
func (m *Metrics) ObserveHealth(report []eventq.SourceHealth) {
	for _, h := range report {
		m.SetQueueDepth(h.Source, eventq.StatusPending, h.Pending)
		m.SetQueueDepth(h.Source, eventq.StatusProcessing, h.Processing)
		m.SetQueueDepth(h.Source, eventq.StatusDeadLetter, h.DeadLetter)
	}
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
