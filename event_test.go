package eventq

import (
	"encoding/json"
	"testing"
)

func TestEventValidate(t *testing.T) {
	validPayload := json.RawMessage(`{"ok":true}`)

	cases := []struct {
		name  string
		event Event
		err   error
	}{
		{
			name:  "unknown source",
			event: Event{Source: "github", EventType: "push", ExternalID: "1", Payload: validPayload},
			err:   ErrUnknownSource,
		},
		{
			name:  "missing event type",
			event: Event{Source: SourceTeamwork, ExternalID: "1", Payload: validPayload},
			err:   ErrEventTypeRequired,
		},
		{
			name:  "missing external id",
			event: Event{Source: SourceTeamwork, EventType: "task.created", Payload: validPayload},
			err:   ErrExternalIDRequired,
		},
		{
			name:  "missing payload",
			event: Event{Source: SourceTeamwork, EventType: "task.created", ExternalID: "1"},
			err:   ErrPayloadRequired,
		},
		{
			name:  "invalid payload",
			event: Event{Source: SourceTeamwork, EventType: "task.created", ExternalID: "1", Payload: json.RawMessage(`{`)},
			err:   ErrInvalidPayload,
		},
		{
			name:  "negative max retries",
			event: Event{Source: SourceTeamwork, EventType: "task.created", ExternalID: "1", Payload: validPayload, MaxRetries: -1},
			err:   ErrInvalidMaxRetries,
		},
		{
			name:  "valid",
			event: Event{Source: SourceMissive, EventType: "message.received", ExternalID: "m-9", Payload: validPayload},
			err:   nil,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.event.Validate()
			if tc.err == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.err != nil && err != tc.err {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}
}

func TestValidateEventSkipJSON(t *testing.T) {
	event := Event{
		Source:     SourceCraft,
		EventType:  "estimate.updated",
		ExternalID: "e-12",
		Payload:    json.RawMessage(`{`),
	}

	if err := ValidateEvent(event, false); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
