package eventq

import "time"

// SourceHealth aggregates queue state for one source.
type SourceHealth struct {
	Source Source
	// Pending counts items waiting to be claimed, including retries.
	Pending int64
	// Processing counts items currently claimed by a worker.
	Processing int64
	// Failed counts pending items that have already failed at least once.
	Failed int64
	// DeadLetter counts terminally failed items kept for postmortem.
	DeadLetter int64
	// AvgProcessingTime averages the recorded duration of completed items
	// still inside the retention window.
	AvgProcessingTime time.Duration
	// OldestPendingAge is the age of the oldest unclaimed item.
	OldestPendingAge time.Duration
	// Stuck counts items processing longer than the stuck threshold.
	Stuck int64
}

// ErrorRecord is a recent failure surfaced for operators. The error text is
// opaque diagnostic detail recorded by handlers; the queue never interprets it.
type ErrorRecord struct {
	ID           int64
	Source       Source
	EventType    string
	ExternalID   string
	ErrorMessage string
	RetryCount   int
	Status       Status
	UpdatedAt    time.Time
}
