package postgres

import "fmt"

const itemColumns = "id, source, event_type, external_id, payload, status, retry_count, max_retries, " +
	"error_message, created_at, updated_at, processing_started_at, processed_at, next_retry_at, " +
	"worker_id, processing_time_ms"

type queries struct {
	insert           string
	claim            string
	claimSource      string
	selectRetryState string
	selectStatus     string
	markCompleted    string
	markRetry        string
	markDead         string
	resetStuck       string
	cleanupCompleted string
	health           string
	recentErrors     string
	getCheckpoint    string
	setCheckpoint    string
}

func newQueries(table, checkpointTable string) queries {
	insert := fmt.Sprintf(
		"INSERT INTO %s (source, event_type, external_id, payload, status, max_retries, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id",
		table,
	)
	claim := fmt.Sprintf(
		"UPDATE %[1]s SET status = $1, worker_id = $2, processing_started_at = $3, next_retry_at = NULL, updated_at = $3 "+
			"WHERE id IN ("+
			"SELECT id FROM %[1]s WHERE status = $4 AND (next_retry_at IS NULL OR next_retry_at <= $3) "+
			"ORDER BY created_at, id LIMIT $5 FOR UPDATE SKIP LOCKED"+
			") RETURNING %[2]s",
		table,
		itemColumns,
	)
	claimSource := fmt.Sprintf(
		"UPDATE %[1]s SET status = $1, worker_id = $2, processing_started_at = $3, next_retry_at = NULL, updated_at = $3 "+
			"WHERE id IN ("+
			"SELECT id FROM %[1]s WHERE status = $4 AND source = $6 AND (next_retry_at IS NULL OR next_retry_at <= $3) "+
			"ORDER BY created_at, id LIMIT $5 FOR UPDATE SKIP LOCKED"+
			") RETURNING %[2]s",
		table,
		itemColumns,
	)
	selectRetryState := fmt.Sprintf(
		"SELECT retry_count, max_retries, status FROM %s WHERE id = $1 FOR UPDATE",
		table,
	)
	selectStatus := fmt.Sprintf(
		"SELECT status FROM %s WHERE id = $1",
		table,
	)
	markCompleted := fmt.Sprintf(
		"UPDATE %s SET status = $1, processed_at = $2, processing_time_ms = $3, worker_id = NULL, processing_started_at = NULL, next_retry_at = NULL, updated_at = $2 WHERE id = $4 AND status NOT IN ($5, $6)",
		table,
	)
	markRetry := fmt.Sprintf(
		"UPDATE %s SET status = $1, retry_count = $2, next_retry_at = $3, error_message = $4, worker_id = NULL, processing_started_at = NULL, updated_at = $5 WHERE id = $6 AND status NOT IN ($7, $8)",
		table,
	)
	markDead := fmt.Sprintf(
		"UPDATE %s SET status = $1, processed_at = $2, error_message = $3, worker_id = NULL, processing_started_at = NULL, next_retry_at = NULL, updated_at = $2 WHERE id = $4 AND status NOT IN ($5, $6)",
		table,
	)
	resetStuck := fmt.Sprintf(
		"UPDATE %s SET status = $1, worker_id = NULL, processing_started_at = NULL, updated_at = $2 WHERE status = $3 AND processing_started_at IS NOT NULL AND processing_started_at < $4",
		table,
	)
	cleanupCompleted := fmt.Sprintf(
		"DELETE FROM %[1]s WHERE id IN (SELECT id FROM %[1]s WHERE status = $1 AND processed_at IS NOT NULL AND processed_at < $2 ORDER BY id LIMIT $3)",
		table,
	)
	health := fmt.Sprintf(
		"SELECT source, "+
			"COUNT(*) FILTER (WHERE status = $1), "+
			"COUNT(*) FILTER (WHERE status = $2), "+
			"COUNT(*) FILTER (WHERE status = $1 AND retry_count > 0), "+
			"COUNT(*) FILTER (WHERE status = $3), "+
			"AVG(processing_time_ms) FILTER (WHERE status = $4), "+
			"MIN(created_at) FILTER (WHERE status = $1), "+
			"COUNT(*) FILTER (WHERE status = $2 AND processing_started_at < $5) "+
			"FROM %s GROUP BY source",
		table,
	)
	recentErrors := fmt.Sprintf(
		"SELECT id, source, event_type, external_id, error_message, retry_count, status, updated_at FROM %s WHERE error_message IS NOT NULL AND updated_at >= $1 ORDER BY updated_at DESC, id DESC LIMIT $2",
		table,
	)
	getCheckpoint := fmt.Sprintf(
		"SELECT source, last_event_time, last_cursor, updated_at FROM %s WHERE source = $1",
		checkpointTable,
	)
	setCheckpoint := fmt.Sprintf(
		"INSERT INTO %s (source, last_event_time, last_cursor, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (source) DO UPDATE SET last_event_time = EXCLUDED.last_event_time, last_cursor = EXCLUDED.last_cursor, updated_at = EXCLUDED.updated_at",
		checkpointTable,
	)

	return queries{
		insert:           insert,
		claim:            claim,
		claimSource:      claimSource,
		selectRetryState: selectRetryState,
		selectStatus:     selectStatus,
		markCompleted:    markCompleted,
		markRetry:        markRetry,
		markDead:         markDead,
		resetStuck:       resetStuck,
		cleanupCompleted: cleanupCompleted,
		health:           health,
		recentErrors:     recentErrors,
		getCheckpoint:    getCheckpoint,
		setCheckpoint:    setCheckpoint,
	}
}
