package eventq

import "encoding/json"

// Event describes a new queue item to be persisted.
type Event struct {
	// Source identifies the producing system.
	Source Source
	// EventType names the specific change (e.g., "task.created").
	EventType string
	// ExternalID identifies the entity in the source system.
	ExternalID string
	// Payload is stored as JSON and never interpreted by the queue core.
	Payload json.RawMessage
	// MaxRetries optionally overrides the store's default retry budget.
	MaxRetries int
}

// Validate checks required fields and JSON validity.
func (e Event) Validate() error {
	return ValidateEvent(e, true)
}

// ValidateEvent validates an event with optional JSON validation for the payload.
func ValidateEvent(event Event, validateJSON bool) error {
	if !event.Source.Valid() {
		return ErrUnknownSource
	}
	if event.EventType == "" {
		return ErrEventTypeRequired
	}
	if event.ExternalID == "" {
		return ErrExternalIDRequired
	}
	if len(event.Payload) == 0 {
		return ErrPayloadRequired
	}
	if validateJSON && !json.Valid(event.Payload) {
		return ErrInvalidPayload
	}
	if event.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}

	return nil
}
