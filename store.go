package eventq

import (
	"context"
	"time"
)

// DequeueOptions controls how pending items are claimed.
type DequeueOptions struct {
	// WorkerID identifies the claiming process and is stamped on every
	// claimed row. Required.
	WorkerID string
	// MaxItems caps the batch size. Required.
	MaxItems int
	// Source optionally restricts the claim to one producing system.
	// The zero value claims across all sources.
	Source Source
}

// Validate checks the claim parameters.
func (o DequeueOptions) Validate() error {
	if o.WorkerID == "" {
		return ErrWorkerIDRequired
	}
	if o.MaxItems <= 0 {
		return ErrInvalidBatchSize
	}
	if o.Source != "" && !o.Source.Valid() {
		return ErrUnknownSource
	}

	return nil
}

// Queue is the claim surface a Runner drives. Every method is a single
// atomic action against the backing database, so independently restarting
// workers share the queue with no coordination beyond the store itself.
type Queue interface {
	// Dequeue claims up to opts.MaxItems eligible pending items for
	// opts.WorkerID, marking them processing. Rows locked by a concurrent
	// claim are skipped, never waited on. Ordering is by creation time
	// among currently eligible items. An empty result is not an error.
	Dequeue(ctx context.Context, opts DequeueOptions) ([]Item, error)
	// MarkCompleted finalizes an item and records how long handling took.
	// A negative duration leaves the processing time unrecorded. Repeating
	// a completion is a no-op; completing a dead-lettered item returns
	// ErrItemFinalized and leaves the row untouched.
	MarkCompleted(ctx context.Context, id int64, processingTime time.Duration) error
	// MarkFailed schedules a retry with backoff, or dead-letters the item
	// when retry is false or the retry budget is spent. It returns the
	// resulting status (StatusPending or StatusDeadLetter). An item that
	// already settled in a terminal status is left untouched: the current
	// status is returned together with ErrItemFinalized.
	MarkFailed(ctx context.Context, id int64, errMsg string, retry bool) (Status, error)
}

// MaintenanceStore is the subset of Store the Maintainer needs.
type MaintenanceStore interface {
	// ResetStuckItems returns claims older than threshold to pending,
	// clearing worker fields without touching retry counts.
	ResetStuckItems(ctx context.Context, threshold time.Duration) (int64, error)
	// CleanupOldItems hard-deletes completed items older than the
	// retention window. Dead-lettered items are never deleted.
	CleanupOldItems(ctx context.Context, retention time.Duration) (int64, error)
}

// CheckpointStore persists per-source resume positions.
type CheckpointStore interface {
	// GetCheckpoint returns the stored position for a source, or
	// ErrCheckpointNotFound when none was ever set.
	GetCheckpoint(ctx context.Context, source Source) (Checkpoint, error)
	// SetCheckpoint stores the position for a source, overwriting any
	// previous value.
	SetCheckpoint(ctx context.Context, source Source, lastEventTime time.Time, lastCursor string) error
}

// HealthReporter is implemented by stores that can aggregate queue health.
type HealthReporter interface {
	// Health returns per-source queue state. Read-only.
	Health(ctx context.Context) ([]SourceHealth, error)
}

// Store is the full durable queue and checkpoint surface.
type Store interface {
	Queue
	MaintenanceStore
	CheckpointStore
	HealthReporter

	// Enqueue persists a new pending item and returns its assigned id.
	// No uniqueness is enforced across (source, event type, external id);
	// duplicate enqueues are legal producer behavior and are deduplicated,
	// if at all, by idempotent handlers downstream.
	Enqueue(ctx context.Context, event Event) (int64, error)
	// RecentErrors lists items that recorded an error within the window,
	// newest first. Zero window or limit fall back to store defaults.
	RecentErrors(ctx context.Context, window time.Duration, limit int) ([]ErrorRecord, error)
}
