package postgres

import (
	"fmt"
)

const schemaTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	source TEXT NOT NULL,
	event_type TEXT NOT NULL,
	external_id TEXT NOT NULL,
	payload JSONB NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INT NOT NULL DEFAULT 0,
	max_retries INT NOT NULL DEFAULT 3,
	error_message TEXT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	processing_started_at TIMESTAMPTZ NULL,
	processed_at TIMESTAMPTZ NULL,
	next_retry_at TIMESTAMPTZ NULL,
	worker_id TEXT NULL,
	processing_time_ms BIGINT NULL
);

CREATE INDEX IF NOT EXISTS %[2]s_claim_idx ON %[1]s (status, next_retry_at, created_at);
CREATE INDEX IF NOT EXISTS %[2]s_source_status_idx ON %[1]s (source, status);
CREATE INDEX IF NOT EXISTS %[2]s_updated_at_idx ON %[1]s (updated_at);`

const checkpointSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	source TEXT PRIMARY KEY,
	last_event_time TIMESTAMPTZ NULL,
	last_cursor TEXT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Schema returns the queue table DDL, including its indexes.
func Schema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(schemaTemplate, name, indexPrefix(name)), nil
}

// CheckpointSchema returns the checkpoint table DDL.
func CheckpointSchema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(checkpointSchemaTemplate, name), nil
}
