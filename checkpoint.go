package eventq

import "time"

// Checkpoint is a per-source resume position for incremental sync. The
// producer stores the timestamp and pagination cursor of the last event it
// ingested so a restart continues where the previous scan stopped.
//
// Callers are expected to advance LastEventTime monotonically; the store
// does not enforce it.
type Checkpoint struct {
	Source        Source
	LastEventTime time.Time
	LastCursor    string
	UpdatedAt     time.Time
}
