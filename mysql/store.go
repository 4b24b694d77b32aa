package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/velmie/eventq"
)

const (
	maxErrorLen       = 1024
	claimFixedArgs    = 4
	placeholderGrowth = 2

	defaultErrorWindow = 24 * time.Hour
	defaultErrorLimit  = 100
)

// Executor allows enqueuing within an existing transaction.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store implements a MySQL-backed durable queue using polling + SKIP LOCKED.
// Claims are persisted (status + worker_id), so a crashed worker leaves rows
// in processing until ResetStuckItems returns them to pending.
type Store struct {
	db              *sql.DB
	cfg             Config
	queries         queries
	table           string
	checkpointTable string
}

var _ eventq.Store = (*Store)(nil)

// NewStore constructs a MySQL store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	checkpointTable, err := sanitizeTableName(cfg.CheckpointTable)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:              db,
		cfg:             cfg,
		queries:         newQueries(table, checkpointTable),
		table:           table,
		checkpointTable: checkpointTable,
	}, nil
}

// MustNewStore constructs a MySQL store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Enqueue validates and inserts a pending item, returning its assigned id.
func (s *Store) Enqueue(ctx context.Context, event eventq.Event) (int64, error) {
	return s.EnqueueTx(ctx, s.db, event)
}

// EnqueueTx inserts a pending item using the provided executor so producers
// can enqueue atomically with their own business writes.
func (s *Store) EnqueueTx(ctx context.Context, exec Executor, event eventq.Event) (int64, error) {
	if exec == nil {
		return 0, ErrExecutorRequired
	}
	if err := eventq.ValidateEvent(event, s.cfg.ValidateJSON); err != nil {
		return 0, err
	}

	maxRetries := event.MaxRetries
	if maxRetries == 0 {
		maxRetries = s.cfg.MaxRetries
	}
	now := s.cfg.Clock.Now()

	res, err := exec.ExecContext(
		ctx,
		s.queries.insert,
		event.Source,
		event.EventType,
		event.ExternalID,
		event.Payload,
		eventq.StatusPending,
		maxRetries,
		now,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("eventq mysql: insert failed: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("eventq mysql: insert id failed: %w", err)
	}

	return id, nil
}

// Dequeue claims a batch of eligible pending items for a worker using
// READ COMMITTED + SKIP LOCKED. The claim transaction only covers the
// select and the status flip; returned items are already committed as
// processing and owned by opts.WorkerID.
func (s *Store) Dequeue(ctx context.Context, opts eventq.DequeueOptions) ([]eventq.Item, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("eventq mysql: begin tx failed: %w", err)
	}

	items, err := s.claimBatch(ctx, tx, opts)
	if err != nil {
		rollbackErr := tx.Rollback()

		return nil, errors.Join(err, rollbackErr)
	}
	if len(items) == 0 {
		_ = tx.Rollback()

		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("eventq mysql: commit claim failed: %w", err)
	}

	return items, nil
}

func (s *Store) claimBatch(ctx context.Context, tx *sql.Tx, opts eventq.DequeueOptions) ([]eventq.Item, error) {
	now := s.cfg.Clock.Now()

	var (
		rows *sql.Rows
		err  error
	)

	if opts.Source == "" {
		rows, err = tx.QueryContext(ctx, s.queries.selectEligible, eventq.StatusPending, now, opts.MaxItems)
	} else {
		rows, err = tx.QueryContext(ctx, s.queries.selectEligibleSource, eventq.StatusPending, opts.Source, now, opts.MaxItems)
	}
	if err != nil {
		return nil, fmt.Errorf("eventq mysql: select failed: %w", err)
	}

	items, err := collectItems(rows, opts.MaxItems)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	query := buildClaimQuery(s.table, len(items))
	args := make([]any, 0, len(items)+claimFixedArgs)
	args = append(args, eventq.StatusProcessing, opts.WorkerID, now, now)
	for i := range items {
		args = append(args, items[i].ID)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("eventq mysql: claim update failed: %w", err)
	}

	for i := range items {
		started := now
		items[i].Status = eventq.StatusProcessing
		items[i].WorkerID = opts.WorkerID
		items[i].ProcessingStartedAt = &started
		items[i].NextRetryAt = nil
		items[i].UpdatedAt = now
	}

	return items, nil
}

// MarkCompleted finalizes an item. A negative processingTime leaves the
// recorded duration NULL. Terminal rows are never rewritten: repeating a
// completion is a no-op and completing a dead-lettered item returns
// eventq.ErrItemFinalized.
func (s *Store) MarkCompleted(ctx context.Context, id int64, processingTime time.Duration) error {
	now := s.cfg.Clock.Now()

	var procMS any
	if processingTime >= 0 {
		procMS = processingTime.Milliseconds()
	}

	res, err := s.db.ExecContext(ctx, s.queries.markCompleted,
		eventq.StatusCompleted, now, procMS, now, id, eventq.StatusCompleted, eventq.StatusDeadLetter)
	if err != nil {
		return fmt.Errorf("eventq mysql: complete update failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("eventq mysql: complete rows failed: %w", err)
	}
	if affected == 0 {
		return s.completeConflict(ctx, id)
	}

	return nil
}

// completeConflict resolves a completion whose guarded update matched no
// row: the item is gone, was already completed, or sits in dead letter.
func (s *Store) completeConflict(ctx context.Context, id int64) error {
	var status eventq.Status
	err := s.db.QueryRowContext(ctx, s.queries.selectStatus, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return eventq.ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("eventq mysql: select status failed: %w", err)
	}
	if status == eventq.StatusCompleted {
		return nil
	}

	return eventq.ErrItemFinalized
}

// MarkFailed records a handler failure. With retry budget left and retry
// true the item returns to pending with backoff, otherwise it dead-letters.
// The budget read and the status write share one row-locked transaction.
// An item already in a terminal status keeps it; the call returns that
// status with eventq.ErrItemFinalized.
func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string, retry bool) (eventq.Status, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return "", fmt.Errorf("eventq mysql: begin tx failed: %w", err)
	}

	status, err := s.markFailedTx(ctx, tx, id, errMsg, retry)
	if errors.Is(err, eventq.ErrItemFinalized) {
		_ = tx.Rollback()

		return status, err
	}
	if err != nil {
		rollbackErr := tx.Rollback()

		return "", errors.Join(err, rollbackErr)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("eventq mysql: commit failure update failed: %w", err)
	}

	return status, nil
}

func (s *Store) markFailedTx(ctx context.Context, tx *sql.Tx, id int64, errMsg string, retry bool) (eventq.Status, error) {
	var (
		retryCount, maxRetries int
		current                eventq.Status
	)
	err := tx.QueryRowContext(ctx, s.queries.selectRetryState, id).Scan(&retryCount, &maxRetries, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", eventq.ErrItemNotFound
	}
	if err != nil {
		return "", fmt.Errorf("eventq mysql: select retry state failed: %w", err)
	}
	if current.Terminal() {
		return current, eventq.ErrItemFinalized
	}

	now := s.cfg.Clock.Now()
	errText := truncateError(errMsg)

	if retry && retryCount < maxRetries {
		nextRetry := now.Add(eventq.RetryDelay(retryCount))
		if _, err := tx.ExecContext(ctx, s.queries.markRetry,
			eventq.StatusPending, retryCount+1, nextRetry, errText, now, id,
			eventq.StatusCompleted, eventq.StatusDeadLetter); err != nil {
			return "", fmt.Errorf("eventq mysql: retry update failed: %w", err)
		}

		return eventq.StatusPending, nil
	}

	if _, err := tx.ExecContext(ctx, s.queries.markDead,
		eventq.StatusDeadLetter, now, errText, now, id,
		eventq.StatusCompleted, eventq.StatusDeadLetter); err != nil {
		return "", fmt.Errorf("eventq mysql: dead-letter update failed: %w", err)
	}

	return eventq.StatusDeadLetter, nil
}

// ResetStuckItems returns claims older than threshold to pending. Retry
// counts are untouched, so reclaimed items keep their remaining budget.
func (s *Store) ResetStuckItems(ctx context.Context, threshold time.Duration) (int64, error) {
	if threshold <= 0 {
		return 0, eventq.ErrInvalidThreshold
	}

	now := s.cfg.Clock.Now()
	cutoff := now.Add(-threshold)

	res, err := s.db.ExecContext(ctx, s.queries.resetStuck, eventq.StatusPending, now, eventq.StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("eventq mysql: reset stuck failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("eventq mysql: reset stuck rows failed: %w", err)
	}

	return affected, nil
}

// CleanupOldItems deletes completed items older than the retention window,
// at most SweepLimit rows per call. Dead-lettered rows are never touched.
func (s *Store) CleanupOldItems(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, eventq.ErrInvalidRetention
	}

	cutoff := s.cfg.Clock.Now().Add(-retention)

	res, err := s.db.ExecContext(ctx, s.queries.cleanupCompleted, eventq.StatusCompleted, cutoff, s.cfg.SweepLimit)
	if err != nil {
		return 0, fmt.Errorf("eventq mysql: cleanup delete failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("eventq mysql: cleanup rows failed: %w", err)
	}

	return affected, nil
}

// GetCheckpoint returns the stored resume position for a source.
func (s *Store) GetCheckpoint(ctx context.Context, source eventq.Source) (eventq.Checkpoint, error) {
	if !source.Valid() {
		return eventq.Checkpoint{}, eventq.ErrUnknownSource
	}

	var (
		cp        eventq.Checkpoint
		eventTime sql.NullTime
		cursor    sql.NullString
	)

	err := s.db.QueryRowContext(ctx, s.queries.getCheckpoint, source).
		Scan(&cp.Source, &eventTime, &cursor, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return eventq.Checkpoint{}, eventq.ErrCheckpointNotFound
	}
	if err != nil {
		return eventq.Checkpoint{}, fmt.Errorf("eventq mysql: select checkpoint failed: %w", err)
	}

	if eventTime.Valid {
		cp.LastEventTime = eventTime.Time
	}
	cp.LastCursor = cursor.String

	return cp, nil
}

// SetCheckpoint stores the resume position for a source, overwriting any
// previous value.
func (s *Store) SetCheckpoint(ctx context.Context, source eventq.Source, lastEventTime time.Time, lastCursor string) error {
	if !source.Valid() {
		return eventq.ErrUnknownSource
	}

	now := s.cfg.Clock.Now()

	var eventTime any
	if !lastEventTime.IsZero() {
		eventTime = lastEventTime.UTC()
	}

	if _, err := s.db.ExecContext(ctx, s.queries.setCheckpoint, source, eventTime, lastCursor, now); err != nil {
		return fmt.Errorf("eventq mysql: upsert checkpoint failed: %w", err)
	}

	return nil
}

// Health aggregates queue state per source. Sources with no rows report
// zero counts.
func (s *Store) Health(ctx context.Context) ([]eventq.SourceHealth, error) {
	now := s.cfg.Clock.Now()
	stuckCutoff := now.Add(-s.cfg.StuckThreshold)

	rows, err := s.db.QueryContext(ctx, s.queries.health,
		eventq.StatusPending,
		eventq.StatusProcessing,
		eventq.StatusPending,
		eventq.StatusDeadLetter,
		eventq.StatusCompleted,
		eventq.StatusPending,
		eventq.StatusProcessing, stuckCutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("eventq mysql: health query failed: %w", err)
	}
	defer rows.Close()

	bySource := make(map[eventq.Source]eventq.SourceHealth)
	for rows.Next() {
		var (
			h      eventq.SourceHealth
			avgMS  sql.NullFloat64
			oldest sql.NullTime
		)

		if err := rows.Scan(&h.Source, &h.Pending, &h.Processing, &h.Failed, &h.DeadLetter, &avgMS, &oldest, &h.Stuck); err != nil {
			return nil, fmt.Errorf("eventq mysql: health scan failed: %w", err)
		}

		if avgMS.Valid {
			h.AvgProcessingTime = time.Duration(avgMS.Float64 * float64(time.Millisecond))
		}
		if oldest.Valid {
			h.OldestPendingAge = now.Sub(oldest.Time)
		}
		bySource[h.Source] = h
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventq mysql: health rows failed: %w", err)
	}

	report := make([]eventq.SourceHealth, 0, len(eventq.Sources()))
	for _, source := range eventq.Sources() {
		h, ok := bySource[source]
		if !ok {
			h = eventq.SourceHealth{Source: source}
		}
		report = append(report, h)
	}

	return report, nil
}

// RecentErrors lists items that recorded an error inside the window, newest
// first. Zero window or limit use the store defaults.
func (s *Store) RecentErrors(ctx context.Context, window time.Duration, limit int) ([]eventq.ErrorRecord, error) {
	if window <= 0 {
		window = defaultErrorWindow
	}
	if limit <= 0 {
		limit = defaultErrorLimit
	}

	cutoff := s.cfg.Clock.Now().Add(-window)

	rows, err := s.db.QueryContext(ctx, s.queries.recentErrors, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("eventq mysql: recent errors query failed: %w", err)
	}
	defer rows.Close()

	records := make([]eventq.ErrorRecord, 0, limit)
	for rows.Next() {
		var (
			rec    eventq.ErrorRecord
			errMsg sql.NullString
		)

		if err := rows.Scan(&rec.ID, &rec.Source, &rec.EventType, &rec.ExternalID, &errMsg, &rec.RetryCount, &rec.Status, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("eventq mysql: recent errors scan failed: %w", err)
		}
		rec.ErrorMessage = errMsg.String

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventq mysql: recent errors rows failed: %w", err)
	}

	return records, nil
}

func collectItems(rows *sql.Rows, capacity int) ([]eventq.Item, error) {
	defer rows.Close()

	items := make([]eventq.Item, 0, capacity)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventq mysql: rows failed: %w", err)
	}

	return items, nil
}

func scanItem(rows *sql.Rows) (eventq.Item, error) {
	var (
		item        eventq.Item
		errMsg      sql.NullString
		startedAt   sql.NullTime
		processedAt sql.NullTime
		nextRetry   sql.NullTime
		workerID    sql.NullString
		procMS      sql.NullInt64
	)

	if err := rows.Scan(
		&item.ID,
		&item.Source,
		&item.EventType,
		&item.ExternalID,
		&item.Payload,
		&item.Status,
		&item.RetryCount,
		&item.MaxRetries,
		&errMsg,
		&item.CreatedAt,
		&item.UpdatedAt,
		&startedAt,
		&processedAt,
		&nextRetry,
		&workerID,
		&procMS,
	); err != nil {
		return eventq.Item{}, fmt.Errorf("eventq mysql: scan failed: %w", err)
	}

	item.ErrorMessage = errMsg.String
	item.WorkerID = workerID.String
	if startedAt.Valid {
		t := startedAt.Time
		item.ProcessingStartedAt = &t
	}
	if processedAt.Valid {
		t := processedAt.Time
		item.ProcessedAt = &t
	}
	if nextRetry.Valid {
		t := nextRetry.Time
		item.NextRetryAt = &t
	}
	if procMS.Valid {
		v := procMS.Int64
		item.ProcessingTimeMS = &v
	}

	return item, nil
}

func buildClaimQuery(table string, count int) string {
	placeholders := makePlaceholders(count)

	return fmt.Sprintf(
		"UPDATE %s SET status = ?, worker_id = ?, processing_started_at = ?, next_retry_at = NULL, updated_at = ? WHERE id IN (%s)",
		table,
		placeholders,
	)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}

	buf := make([]byte, 0, count*placeholderGrowth)
	for i := 0; i < count; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
	}

	return string(buf)
}

func truncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}

	runes := []rune(msg)

	return string(runes[:maxErrorLen])
}
