package eventq

import "time"

// Metrics captures runner and maintenance telemetry.
type Metrics interface {
	// ObserveBatchDuration records the time to process a claimed batch.
	ObserveBatchDuration(duration time.Duration)
	// AddCompleted increments the count of successfully processed items.
	AddCompleted(count int)
	// AddErrors increments the count of handler errors.
	AddErrors(count int)
	// AddRetried increments the count of items scheduled for retry.
	AddRetried(count int)
	// AddDeadLettered increments the count of dead-lettered items.
	AddDeadLettered(count int)
	// AddReclaimed increments the count of stuck items returned to pending.
	AddReclaimed(count int)
	// AddSwept increments the count of completed items deleted by retention.
	AddSwept(count int)
	// SetQueueDepth updates the per-source gauge for one status.
	SetQueueDepth(source Source, status Status, count int64)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveBatchDuration implements Metrics.
func (NopMetrics) ObserveBatchDuration(time.Duration) {}

// AddCompleted implements Metrics.
func (NopMetrics) AddCompleted(int) {}

// AddErrors implements Metrics.
func (NopMetrics) AddErrors(int) {}

// AddRetried implements Metrics.
func (NopMetrics) AddRetried(int) {}

// AddDeadLettered implements Metrics.
func (NopMetrics) AddDeadLettered(int) {}

// AddReclaimed implements Metrics.
func (NopMetrics) AddReclaimed(int) {}

// AddSwept implements Metrics.
func (NopMetrics) AddSwept(int) {}

// SetQueueDepth implements Metrics.
func (NopMetrics) SetQueueDepth(Source, Status, int64) {}
