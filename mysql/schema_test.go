package mysql

import (
	"strings"
	"testing"
)

func TestSchema(t *testing.T) {
	schema, err := Schema("queue_items")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, want := range []string{
		"payload JSON NOT NULL",
		"status VARCHAR(16) NOT NULL DEFAULT 'pending'",
		"next_retry_at TIMESTAMP(6) NULL",
		"processing_time_ms BIGINT NULL",
		"INDEX idx_claim (status, next_retry_at, created_at)",
	} {
		if !strings.Contains(schema, want) {
			t.Fatalf("expected schema to contain %q", want)
		}
	}

	if _, err := Schema("queue-items"); err == nil {
		t.Fatalf("expected invalid table name error")
	}
}

func TestCheckpointSchema(t *testing.T) {
	schema, err := CheckpointSchema("sync_checkpoints")
	if err != nil {
		t.Fatalf("checkpoint schema: %v", err)
	}
	for _, want := range []string{
		"last_event_time TIMESTAMP(6) NULL",
		"last_cursor TEXT NULL",
		"PRIMARY KEY (source)",
	} {
		if !strings.Contains(schema, want) {
			t.Fatalf("expected schema to contain %q", want)
		}
	}

	if _, err := CheckpointSchema(""); err == nil {
		t.Fatalf("expected table name error")
	}
}
