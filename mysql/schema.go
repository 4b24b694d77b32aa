package mysql

import (
	"fmt"
)

const schemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BIGINT NOT NULL AUTO_INCREMENT,
	source VARCHAR(32) NOT NULL,
	event_type VARCHAR(128) NOT NULL,
	external_id VARCHAR(128) NOT NULL,
	payload JSON NOT NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	retry_count INT NOT NULL DEFAULT 0,
	max_retries INT NOT NULL DEFAULT 3,
	error_message VARCHAR(1024) NULL,
	created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
	processing_started_at TIMESTAMP(6) NULL,
	processed_at TIMESTAMP(6) NULL,
	next_retry_at TIMESTAMP(6) NULL,
	worker_id VARCHAR(128) NULL,
	processing_time_ms BIGINT NULL,
	PRIMARY KEY (id),
	INDEX idx_claim (status, next_retry_at, created_at),
	INDEX idx_source_status (source, status),
	INDEX idx_recent_errors (updated_at)
);`

const checkpointSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	source VARCHAR(32) NOT NULL,
	last_event_time TIMESTAMP(6) NULL,
	last_cursor TEXT NULL,
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
	PRIMARY KEY (source)
);`

// Schema returns the queue table DDL.
func Schema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(schemaTemplate, name), nil
}

// CheckpointSchema returns the checkpoint table DDL.
func CheckpointSchema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(checkpointSchemaTemplate, name), nil
}
