package eventq

import (
	"encoding/json"
	"time"
)

// Item is a stored queue item. Pointer fields are null until the
// corresponding lifecycle step happens.
type Item struct {
	ID                  int64
	Source              Source
	EventType           string
	ExternalID          string
	Payload             json.RawMessage
	Status              Status
	RetryCount          int
	MaxRetries          int
	ErrorMessage        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ProcessingStartedAt *time.Time
	ProcessedAt         *time.Time
	NextRetryAt         *time.Time
	WorkerID            string
	ProcessingTimeMS    *int64
}
