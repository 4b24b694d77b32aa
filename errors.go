package eventq

import "errors"

var (
	// ErrInvalidBatchSize indicates that the requested batch size is not positive.
	ErrInvalidBatchSize = errors.New("eventq batch size must be positive")
	// ErrWorkerIDRequired indicates a dequeue call without a worker identity.
	ErrWorkerIDRequired = errors.New("eventq worker id is required")
	// ErrUnknownSource is returned for a source outside the closed set.
	ErrUnknownSource = errors.New("eventq unknown source")
	// ErrEventTypeRequired is returned when Event.EventType is empty.
	ErrEventTypeRequired = errors.New("eventq event type is required")
	// ErrExternalIDRequired is returned when Event.ExternalID is empty.
	ErrExternalIDRequired = errors.New("eventq external id is required")
	// ErrPayloadRequired is returned when Event.Payload is empty.
	ErrPayloadRequired = errors.New("eventq payload is required")
	// ErrInvalidPayload is returned when Event.Payload is not valid JSON.
	ErrInvalidPayload = errors.New("eventq payload must be valid JSON")
	// ErrInvalidMaxRetries is returned when Event.MaxRetries is negative.
	ErrInvalidMaxRetries = errors.New("eventq max retries must not be negative")
	// ErrItemNotFound is returned when a completion or failure targets an unknown item.
	ErrItemNotFound = errors.New("eventq item not found")
	// ErrItemFinalized is returned when a completion or failure arrives after the
	// item settled in a terminal status. The stored row is left untouched.
	ErrItemFinalized = errors.New("eventq item already finalized")
	// ErrCheckpointNotFound is returned when no checkpoint exists for a source.
	ErrCheckpointNotFound = errors.New("eventq checkpoint not found")
	// ErrNilStore indicates a nil store was supplied.
	ErrNilStore = errors.New("eventq store is nil")
	// ErrInvalidThreshold is returned when a reclaim threshold is not positive.
	ErrInvalidThreshold = errors.New("eventq stuck threshold must be positive")
	// ErrInvalidRetention is returned when a retention window is not positive.
	ErrInvalidRetention = errors.New("eventq retention must be positive")
	// ErrWorkerPanic indicates a runner worker panic.
	ErrWorkerPanic = errors.New("eventq worker panic")
)
