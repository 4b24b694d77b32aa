package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velmie/eventq"
)

const (
	maxErrorLen = 1024

	defaultErrorWindow = 24 * time.Hour
	defaultErrorLimit  = 100
)

// Executor allows enqueuing within an existing pgx transaction. Both
// *pgxpool.Pool and pgx.Tx satisfy it.
type Executor interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements a Postgres-backed durable queue. Claiming is a single
// UPDATE ... WHERE id IN (SELECT ... FOR UPDATE SKIP LOCKED) ... RETURNING
// statement, so no explicit transaction is held across the claim.
type Store struct {
	pool            *pgxpool.Pool
	cfg             Config
	queries         queries
	table           string
	checkpointTable string
}

var _ eventq.Store = (*Store)(nil)

// NewStore constructs a Postgres store with validated configuration.
func NewStore(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, ErrPoolRequired
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
		pool:            pool,
		cfg:             cfg,
		queries:         newQueries(table, checkpointTable),
		table:           table,
		checkpointTable: checkpointTable,
	}, nil
}

// MustNewStore constructs a Postgres store or panics on error.
func MustNewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	store, err := NewStore(pool, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Enqueue validates and inserts a pending item, returning its assigned id.
func (s *Store) Enqueue(ctx context.Context, event eventq.Event) (int64, error) {
	return s.EnqueueTx(ctx, s.pool, event)
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

	var id int64
	err := exec.QueryRow(
		ctx,
		s.queries.insert,
		event.Source,
		event.EventType,
		event.ExternalID,
		event.Payload,
		eventq.StatusPending,
		maxRetries,
		now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("eventq postgres: insert failed: %w", err)
	}

	return id, nil
}

// Dequeue claims up to opts.MaxItems eligible pending items for a worker.
// Locked rows are skipped, never waited on.
func (s *Store) Dequeue(ctx context.Context, opts eventq.DequeueOptions) ([]eventq.Item, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	now := s.cfg.Clock.Now()

	var (
		rows pgx.Rows
		err  error
	)

	if opts.Source == "" {
		rows, err = s.pool.Query(ctx, s.queries.claim,
			eventq.StatusProcessing, opts.WorkerID, now, eventq.StatusPending, opts.MaxItems)
	} else {
		rows, err = s.pool.Query(ctx, s.queries.claimSource,
			eventq.StatusProcessing, opts.WorkerID, now, eventq.StatusPending, opts.MaxItems, opts.Source)
	}
	if err != nil {
		return nil, fmt.Errorf("eventq postgres: claim failed: %w", err)
	}
	defer rows.Close()

	items := make([]eventq.Item, 0, opts.MaxItems)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventq postgres: rows failed: %w", err)
	}

	// RETURNING does not guarantee order; restore arrival order.
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}

		return items[i].ID < items[j].ID
	})

	return items, nil
}

// MarkCompleted finalizes an item. A negative processingTime leaves the
// recorded duration NULL. Terminal rows are never rewritten: repeating a
// completion is a no-op and completing a dead-lettered item returns
// eventq.ErrItemFinalized.
func (s *Store) MarkCompleted(ctx context.Context, id int64, processingTime time.Duration) error {
	now := s.cfg.Clock.Now()

	var procMS *int64
	if processingTime >= 0 {
		ms := processingTime.Milliseconds()
		procMS = &ms
	}

	tag, err := s.pool.Exec(ctx, s.queries.markCompleted,
		eventq.StatusCompleted, now, procMS, id, eventq.StatusCompleted, eventq.StatusDeadLetter)
	if err != nil {
		return fmt.Errorf("eventq postgres: complete update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.completeConflict(ctx, id)
	}

	return nil
}

// completeConflict resolves a completion whose guarded update matched no
// row: the item is gone, was already completed, or sits in dead letter.
func (s *Store) completeConflict(ctx context.Context, id int64) error {
	var status eventq.Status
	err := s.pool.QueryRow(ctx, s.queries.selectStatus, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return eventq.ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("eventq postgres: select status failed: %w", err)
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
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("eventq postgres: begin tx failed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		retryCount, maxRetries int
		current                eventq.Status
	)
	err = tx.QueryRow(ctx, s.queries.selectRetryState, id).Scan(&retryCount, &maxRetries, &current)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", eventq.ErrItemNotFound
	}
	if err != nil {
		return "", fmt.Errorf("eventq postgres: select retry state failed: %w", err)
	}
	if current.Terminal() {
		return current, eventq.ErrItemFinalized
	}

	now := s.cfg.Clock.Now()
	errText := truncateError(errMsg)

	var status eventq.Status
	if retry && retryCount < maxRetries {
		nextRetry := now.Add(eventq.RetryDelay(retryCount))
		if _, err := tx.Exec(ctx, s.queries.markRetry,
			eventq.StatusPending, retryCount+1, nextRetry, errText, now, id,
			eventq.StatusCompleted, eventq.StatusDeadLetter); err != nil {
			return "", fmt.Errorf("eventq postgres: retry update failed: %w", err)
		}
		status = eventq.StatusPending
	} else {
		if _, err := tx.Exec(ctx, s.queries.markDead,
			eventq.StatusDeadLetter, now, errText, id,
			eventq.StatusCompleted, eventq.StatusDeadLetter); err != nil {
			return "", fmt.Errorf("eventq postgres: dead-letter update failed: %w", err)
		}
		status = eventq.StatusDeadLetter
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("eventq postgres: commit failure update failed: %w", err)
	}

	return status, nil
}

// ResetStuckItems returns claims older than threshold to pending. Retry
// counts are untouched, so reclaimed items keep their remaining budget.
func (s *Store) ResetStuckItems(ctx context.Context, threshold time.Duration) (int64, error) {
	if threshold <= 0 {
		return 0, eventq.ErrInvalidThreshold
	}

	now := s.cfg.Clock.Now()
	cutoff := now.Add(-threshold)

	tag, err := s.pool.Exec(ctx, s.queries.resetStuck, eventq.StatusPending, now, eventq.StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("eventq postgres: reset stuck failed: %w", err)
	}

	return tag.RowsAffected(), nil
}

// CleanupOldItems deletes completed items older than the retention window,
// at most SweepLimit rows per call. Dead-lettered rows are never touched.
func (s *Store) CleanupOldItems(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, eventq.ErrInvalidRetention
	}

	cutoff := s.cfg.Clock.Now().Add(-retention)

	tag, err := s.pool.Exec(ctx, s.queries.cleanupCompleted, eventq.StatusCompleted, cutoff, s.cfg.SweepLimit)
	if err != nil {
		return 0, fmt.Errorf("eventq postgres: cleanup delete failed: %w", err)
	}

	return tag.RowsAffected(), nil
}

// GetCheckpoint returns the stored resume position for a source.
func (s *Store) GetCheckpoint(ctx context.Context, source eventq.Source) (eventq.Checkpoint, error) {
	if !source.Valid() {
		return eventq.Checkpoint{}, eventq.ErrUnknownSource
	}

	var (
		cp        eventq.Checkpoint
		eventTime *time.Time
		cursor    *string
	)

	err := s.pool.QueryRow(ctx, s.queries.getCheckpoint, source).
		Scan(&cp.Source, &eventTime, &cursor, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return eventq.Checkpoint{}, eventq.ErrCheckpointNotFound
	}
	if err != nil {
		return eventq.Checkpoint{}, fmt.Errorf("eventq postgres: select checkpoint failed: %w", err)
	}

	if eventTime != nil {
		cp.LastEventTime = *eventTime
	}
	if cursor != nil {
		cp.LastCursor = *cursor
	}

	return cp, nil
}

// SetCheckpoint stores the resume position for a source, overwriting any
// previous value.
func (s *Store) SetCheckpoint(ctx context.Context, source eventq.Source, lastEventTime time.Time, lastCursor string) error {
	if !source.Valid() {
		return eventq.ErrUnknownSource
	}

	now := s.cfg.Clock.Now()

	var eventTime *time.Time
	if !lastEventTime.IsZero() {
		t := lastEventTime.UTC()
		eventTime = &t
	}

	if _, err := s.pool.Exec(ctx, s.queries.setCheckpoint, source, eventTime, lastCursor, now); err != nil {
		return fmt.Errorf("eventq postgres: upsert checkpoint failed: %w", err)
	}

	return nil
}

// Health aggregates queue state per source. Sources with no rows report
// zero counts.
func (s *Store) Health(ctx context.Context) ([]eventq.SourceHealth, error) {
	now := s.cfg.Clock.Now()
	stuckCutoff := now.Add(-s.cfg.StuckThreshold)

	rows, err := s.pool.Query(ctx, s.queries.health,
		eventq.StatusPending,
		eventq.StatusProcessing,
		eventq.StatusDeadLetter,
		eventq.StatusCompleted,
		stuckCutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("eventq postgres: health query failed: %w", err)
	}
	defer rows.Close()

	bySource := make(map[eventq.Source]eventq.SourceHealth)
	for rows.Next() {
		var (
			h      eventq.SourceHealth
			avgMS  *float64
			oldest *time.Time
		)

		if err := rows.Scan(&h.Source, &h.Pending, &h.Processing, &h.Failed, &h.DeadLetter, &avgMS, &oldest, &h.Stuck); err != nil {
			return nil, fmt.Errorf("eventq postgres: health scan failed: %w", err)
		}

		if avgMS != nil {
			h.AvgProcessingTime = time.Duration(*avgMS * float64(time.Millisecond))
		}
		if oldest != nil {
			h.OldestPendingAge = now.Sub(*oldest)
		}
		bySource[h.Source] = h
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventq postgres: health rows failed: %w", err)
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

	rows, err := s.pool.Query(ctx, s.queries.recentErrors, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("eventq postgres: recent errors query failed: %w", err)
	}
	defer rows.Close()

	records := make([]eventq.ErrorRecord, 0, limit)
	for rows.Next() {
		var (
			rec    eventq.ErrorRecord
			errMsg *string
		)

		if err := rows.Scan(&rec.ID, &rec.Source, &rec.EventType, &rec.ExternalID, &errMsg, &rec.RetryCount, &rec.Status, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("eventq postgres: recent errors scan failed: %w", err)
		}
		if errMsg != nil {
			rec.ErrorMessage = *errMsg
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventq postgres: recent errors rows failed: %w", err)
	}

	return records, nil
}

func scanItem(rows pgx.Rows) (eventq.Item, error) {
	var (
		item   eventq.Item
		errMsg *string
		worker *string
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
		&item.ProcessingStartedAt,
		&item.ProcessedAt,
		&item.NextRetryAt,
		&worker,
		&item.ProcessingTimeMS,
	); err != nil {
		return eventq.Item{}, fmt.Errorf("eventq postgres: scan failed: %w", err)
	}

	if errMsg != nil {
		item.ErrorMessage = *errMsg
	}
	if worker != nil {
		item.WorkerID = *worker
	}

	return item, nil
}

func truncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}

	runes := []rune(msg)

	return string(runes[:maxErrorLen])
}
