package mysql

import "fmt"

const itemColumns = "id, source, event_type, external_id, payload, status, retry_count, max_retries, " +
	"error_message, created_at, updated_at, processing_started_at, processed_at, next_retry_at, " +
	"worker_id, processing_time_ms"

type queries struct {
	insert               string
	selectEligible       string
	selectEligibleSource string
	selectRetryState     string
	selectStatus         string
	markCompleted        string
	markRetry            string
	markDead             string
	resetStuck           string
	cleanupCompleted     string
	health               string
	recentErrors         string
	getCheckpoint        string
	setCheckpoint        string
}

func newQueries(table, checkpointTable string) queries {
	insert := fmt.Sprintf(
		"INSERT INTO %s (source, event_type, external_id, payload, status, max_retries, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		table,
	)
	selectEligible := fmt.Sprintf(
		"SELECT %s FROM %s WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?) ORDER BY created_at ASC, id ASC LIMIT ? FOR UPDATE SKIP LOCKED",
		itemColumns,
		table,
	)
	selectEligibleSource := fmt.Sprintf(
		"SELECT %s FROM %s WHERE status = ? AND source = ? AND (next_retry_at IS NULL OR next_retry_at <= ?) ORDER BY created_at ASC, id ASC LIMIT ? FOR UPDATE SKIP LOCKED",
		itemColumns,
		table,
	)
	selectRetryState := fmt.Sprintf(
		"SELECT retry_count, max_retries, status FROM %s WHERE id = ? FOR UPDATE",
		table,
	)
	selectStatus := fmt.Sprintf(
		"SELECT status FROM %s WHERE id = ?",
		table,
	)
	markCompleted := fmt.Sprintf(
		"UPDATE %s SET status = ?, processed_at = ?, processing_time_ms = ?, worker_id = NULL, processing_started_at = NULL, next_retry_at = NULL, updated_at = ? WHERE id = ? AND status NOT IN (?, ?)",
		table,
	)
	markRetry := fmt.Sprintf(
		"UPDATE %s SET status = ?, retry_count = ?, next_retry_at = ?, error_message = ?, worker_id = NULL, processing_started_at = NULL, updated_at = ? WHERE id = ? AND status NOT IN (?, ?)",
		table,
	)
	markDead := fmt.Sprintf(
		"UPDATE %s SET status = ?, processed_at = ?, error_message = ?, worker_id = NULL, processing_started_at = NULL, next_retry_at = NULL, updated_at = ? WHERE id = ? AND status NOT IN (?, ?)",
		table,
	)
	resetStuck := fmt.Sprintf(
		"UPDATE %s SET status = ?, worker_id = NULL, processing_started_at = NULL, updated_at = ? WHERE status = ? AND processing_started_at IS NOT NULL AND processing_started_at < ?",
		table,
	)
	cleanupCompleted := fmt.Sprintf(
		"DELETE FROM %s WHERE status = ? AND processed_at IS NOT NULL AND processed_at < ? ORDER BY id LIMIT ?",
		table,
	)
	health := fmt.Sprintf(
		"SELECT source, "+
			"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), "+
			"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), "+
			"SUM(CASE WHEN status = ? AND retry_count > 0 THEN 1 ELSE 0 END), "+
			"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), "+
			"AVG(CASE WHEN status = ? THEN processing_time_ms END), "+
			"MIN(CASE WHEN status = ? THEN created_at END), "+
			"SUM(CASE WHEN status = ? AND processing_started_at < ? THEN 1 ELSE 0 END) "+
			"FROM %s GROUP BY source",
		table,
	)
	recentErrors := fmt.Sprintf(
		"SELECT id, source, event_type, external_id, error_message, retry_count, status, updated_at FROM %s WHERE error_message IS NOT NULL AND updated_at >= ? ORDER BY updated_at DESC, id DESC LIMIT ?",
		table,
	)
	getCheckpoint := fmt.Sprintf(
		"SELECT source, last_event_time, last_cursor, updated_at FROM %s WHERE source = ?",
		checkpointTable,
	)
	setCheckpoint := fmt.Sprintf(
		"INSERT INTO %s (source, last_event_time, last_cursor, updated_at) VALUES (?, ?, ?, ?) ON DUPLICATE KEY UPDATE last_event_time = VALUES(last_event_time), last_cursor = VALUES(last_cursor), updated_at = VALUES(updated_at)",
		checkpointTable,
	)

	return queries{
		insert:               insert,
		selectEligible:       selectEligible,
		selectEligibleSource: selectEligibleSource,
		selectRetryState:     selectRetryState,
		selectStatus:         selectStatus,
		markCompleted:        markCompleted,
		markRetry:            markRetry,
		markDead:             markDead,
		resetStuck:           resetStuck,
		cleanupCompleted:     cleanupCompleted,
		health:               health,
		recentErrors:         recentErrors,
		getCheckpoint:        getCheckpoint,
		setCheckpoint:        setCheckpoint,
	}
}
