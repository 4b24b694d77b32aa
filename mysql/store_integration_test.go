//go:build integration

package mysql_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/velmie/eventq"
	"github.com/velmie/eventq/mysql"
)

var testStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{now: start}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func TestStoreEnqueueDequeueCompleteIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	clock := newStepClock(testStart)
	store, err := mysql.NewStore(db, mysql.WithClock(clock))
	require.NoError(t, err)

	ids := enqueueEvents(t, ctx, store, []eventq.Event{
		testEvent(eventq.SourceTeamwork, "task-1"),
		testEvent(eventq.SourceTeamwork, "task-2"),
		testEvent(eventq.SourceMissive, "conv-1"),
	})

	items, err := store.Dequeue(ctx, eventq.DequeueOptions{WorkerID: "worker-a", MaxItems: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		require.Equal(t, eventq.StatusProcessing, item.Status)
		require.Equal(t, "worker-a", item.WorkerID)
		require.NotNil(t, item.ProcessingStartedAt)
	}

	require.NoError(t, store.MarkCompleted(ctx, items[0].ID, 250*time.Millisecond))
	require.NoError(t, store.MarkCompleted(ctx, items[1].ID, -1))

	row := fetchItem(t, ctx, db, items[0].ID)
	require.Equal(t, eventq.StatusCompleted, row.status)
	require.False(t, row.workerID.Valid)
	require.False(t, row.startedAt.Valid)
	require.True(t, row.processedAt.Valid)
	require.True(t, row.procMS.Valid)
	require.Equal(t, int64(250), row.procMS.Int64)

	row = fetchItem(t, ctx, db, items[1].ID)
	require.Equal(t, eventq.StatusCompleted, row.status)
	require.False(t, row.procMS.Valid)

	rest, err := store.Dequeue(ctx, eventq.DequeueOptions{WorkerID: "worker-a", MaxItems: 10})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, ids[2], rest[0].ID)
	require.NoError(t, store.MarkCompleted(ctx, rest[0].ID, time.Second))

	empty, err := store.Dequeue(ctx, eventq.DequeueOptions{WorkerID: "worker-a", MaxItems: 10})
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestStoreClaimMutualExclusionIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	ids := enqueueEvents(t, ctx, store, []eventq.Event{
		testEvent(eventq.SourceTeamwork, "task-1"),
		testEvent(eventq.SourceTeamwork, "task-2"),
		testEvent(eventq.SourceTeamwork, "task-3"),
		testEvent(eventq.SourceTeamwork, "task-4"),
	})

	// A transaction on a second connection holds row locks on the two
	// oldest items, standing in for a claim still in flight elsewhere.
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	rows, err := tx.QueryContext(ctx, "SELECT id FROM queue_items WHERE id IN (?, ?) FOR UPDATE", ids[0], ids[1])
	require.NoError(t, err)
	var locked []int64
	for rows.Next() {
		var id int64
		require.NoError(t, rows.Scan(&id))
		locked = append(locked, id)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	require.Len(t, locked, 2)

	// The claim must skip the locked rows instead of waiting on them.
	claimCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	free, err := store.Dequeue(claimCtx, eventq.DequeueOptions{WorkerID: "worker-a", MaxItems: 10})
	require.NoError(t, err)
	require.Len(t, free, 2)
	require.Equal(t, ids[2], free[0].ID)
	require.Equal(t, ids[3], free[1].ID)

	require.NoError(t, tx.Rollback())

	// Parallel claimers racing on the released rows never share an item.
	var wg sync.WaitGroup
	batches := make([][]eventq.Item, 2)
	errs := make([]error, 2)
	for i := range batches {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			batches[i], errs[i] = store.Dequeue(ctx, eventq.DequeueOptions{
				WorkerID: fmt.Sprintf("racer-%d", i),
				MaxItems: 1,
			})
		}(i)
	}
	wg.Wait()

	claimed := map[int64]string{}
	for i, batch := range batches {
		require.NoError(t, errs[i])
		require.Len(t, batch, 1)
		for _, item := range batch {
			owner, taken := claimed[item.ID]
			require.False(t, taken, "item %d claimed by %s and %s", item.ID, owner, item.WorkerID)
			claimed[item.ID] = item.WorkerID
		}
	}
	require.Len(t, claimed, 2)
}

func TestStoreSourceFilterAndOrderingIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	clock := newStepClock(testStart)
	store, err := mysql.NewStore(db, mysql.WithClock(clock))
	require.NoError(t, err)

	var missiveIDs []int64
	for i := 0; i < 3; i++ {
		id, err := store.Enqueue(ctx, testEvent(eventq.SourceMissive, fmt.Sprintf("conv-%d", i)))
		require.NoError(t, err)
		missiveIDs = append(missiveIDs, id)

		_, err = store.Enqueue(ctx, testEvent(eventq.SourceCraft, fmt.Sprintf("doc-%d", i)))
		require.NoError(t, err)

		clock.Advance(time.Second)
	}

	items, err := store.Dequeue(ctx, eventq.DequeueOptions{WorkerID: "worker-a", MaxItems: 10, Source: eventq.SourceMissive})
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, item := range items {
		require.Equal(t, eventq.SourceMissive, item.Source)
		require.Equal(t, missiveIDs[i], item.ID, "expected oldest-first order")
	}
}

func TestStoreRetryBackoffIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	clock := newStepClock(testStart)
	store, err := mysql.NewStore(db, mysql.WithClock(clock))
	require.NoError(t, err)

	ids := enqueueEvents(t, ctx, store, []eventq.Event{testEvent(eventq.SourceTeamwork, "task-1")})
	id := ids[0]

	// Failure N while pending with budget left: retry_count N, delay per the
	// fixed ladder, item invisible until next_retry_at passes.
	delays := []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}
	for i, delay := range delays {
		item := claimOne(t, ctx, store, "worker-a")
		require.Equal(t, id, item.ID)
		require.Equal(t, i, item.RetryCount)

		failedAt := clock.Now()
		status, err := store.MarkFailed(ctx, id, fmt.Sprintf("boom %d", i+1), true)
		require.NoError(t, err)
		require.Equal(t, eventq.StatusPending, status)

		row := fetchItem(t, ctx, db, id)
		require.Equal(t, eventq.StatusPending, row.status)
		require.Equal(t, i+1, row.retryCount)
		require.False(t, row.workerID.Valid)
		require.False(t, row.startedAt.Valid)
		require.Equal(t, fmt.Sprintf("boom %d", i+1), row.errMsg.String)
		require.True(t, row.nextRetryAt.Valid)
		require.WithinDuration(t, failedAt.Add(delay), row.nextRetryAt.Time, time.Microsecond)

		empty, err := store.Dequeue(ctx, eventq.DequeueOptions{WorkerID: "worker-a", MaxItems: 1})
		require.NoError(t, err)
		require.Empty(t, empty, "item must stay invisible until backoff passes")

		clock.Advance(delay + time.Second)
	}

	// Budget spent (retry_count == max_retries): the next failure dead-letters.
	item := claimOne(t, ctx, store, "worker-a")
	require.Equal(t, 3, item.RetryCount)

	status, err := store.MarkFailed(ctx, id, "boom 4", true)
	require.NoError(t, err)
	require.Equal(t, eventq.StatusDeadLetter, status)

	row := fetchItem(t, ctx, db, id)
	require.Equal(t, eventq.StatusDeadLetter, row.status)
	require.Equal(t, 3, row.retryCount)
	require.True(t, row.processedAt.Valid)
	require.False(t, row.nextRetryAt.Valid)
	require.False(t, row.workerID.Valid)
	require.Equal(t, "boom 4", row.errMsg.String)

	empty, err := store.Dequeue(ctx, eventq.DequeueOptions{WorkerID: "worker-a", MaxItems: 1})
	require.NoError(t, err)
	require.Empty(t, empty, "dead-lettered items are never claimed")
}

func TestStoreMarkFailedNoRetryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	ids := enqueueEvents(t, ctx, store, []eventq.Event{testEvent(eventq.SourceCraft, "doc-1")})
	item := claimOne(t, ctx, store, "worker-a")
	require.Equal(t, ids[0], item.ID)

	status, err := store.MarkFailed(ctx, item.ID, "schema mismatch", false)
	require.NoError(t, err)
	require.Equal(t, eventq.StatusDeadLetter, status)

	row := fetchItem(t, ctx, db, item.ID)
	require.Equal(t, eventq.StatusDeadLetter, row.status)
	require.Equal(t, 0, row.retryCount, "non-retryable failures skip the budget")
	require.Equal(t, "schema mismatch", row.errMsg.String)

	_, err = store.MarkFailed(ctx, 99999, "missing", true)
	require.ErrorIs(t, err, eventq.ErrItemNotFound)
}

func TestStoreResetStuckItemsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	clock := newStepClock(testStart)
	store, err := mysql.NewStore(db, mysql.WithClock(clock))
	require.NoError(t, err)

	enqueueEvents(t, ctx, store, []eventq.Event{
		testEvent(eventq.SourceTeamwork, "task-1"),
		testEvent(eventq.SourceTeamwork, "task-2"),
		testEvent(eventq.SourceTeamwork, "task-3"),
	})

	crashed, err := store.Dequeue(ctx, eventq.DequeueOptions{WorkerID: "worker-dead", MaxItems: 2})
	require.NoError(t, err)
	require.Len(t, crashed, 2)

	clock.Advance(31 * time.Minute)

	fresh := claimOne(t, ctx, store, "worker-live")

	count, err := store.ResetStuckItems(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	for _, item := range crashed {
		row := fetchItem(t, ctx, db, item.ID)
		require.Equal(t, eventq.StatusPending, row.status)
		require.Equal(t, 0, row.retryCount, "reclaim must not burn retry budget")
		require.False(t, row.workerID.Valid)
		require.False(t, row.startedAt.Valid)
	}

	row := fetchItem(t, ctx, db, fresh.ID)
	require.Equal(t, eventq.StatusProcessing, row.status)
	require.Equal(t, "worker-live", row.workerID.String)

	reclaimed, err := store.Dequeue(ctx, eventq.DequeueOptions{WorkerID: "worker-live", MaxItems: 10})
	require.NoError(t, err)
	require.Len(t, reclaimed, 2)
}

func TestStoreLateDispositionIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	clock := newStepClock(testStart)
	store, err := mysql.NewStore(db, mysql.WithClock(clock))
	require.NoError(t, err)

	ids := enqueueEvents(t, ctx, store, []eventq.Event{
		testEvent(eventq.SourceTeamwork, "late-complete"),
		testEvent(eventq.SourceTeamwork, "late-fail"),
	})

	// worker-a claims both items and stalls past the reclaim threshold.
	stalled, err := store.Dequeue(ctx, eventq.DequeueOptions{WorkerID: "worker-a", MaxItems: 2})
	require.NoError(t, err)
	require.Len(t, stalled, 2)

	clock.Advance(31 * time.Minute)

	count, err := store.ResetStuckItems(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	// worker-b reclaims and settles both before worker-a wakes up.
	settled, err := store.Dequeue(ctx, eventq.DequeueOptions{WorkerID: "worker-b", MaxItems: 2})
	require.NoError(t, err)
	require.Len(t, settled, 2)
	require.NoError(t, store.MarkCompleted(ctx, ids[0], time.Second))
	status, err := store.MarkFailed(ctx, ids[1], "poison", false)
	require.NoError(t, err)
	require.Equal(t, eventq.StatusDeadLetter, status)

	// worker-a's late failure must not drag the completed item back out.
	status, err = store.MarkFailed(ctx, ids[0], "late boom", true)
	require.ErrorIs(t, err, eventq.ErrItemFinalized)
	require.Equal(t, eventq.StatusCompleted, status)

	row := fetchItem(t, ctx, db, ids[0])
	require.Equal(t, eventq.StatusCompleted, row.status)
	require.Equal(t, 0, row.retryCount)
	require.False(t, row.errMsg.Valid, "late failure must not stamp an error")
	require.Equal(t, int64(1000), row.procMS.Int64)

	// worker-a's late completion must not resurrect the dead letter.
	err = store.MarkCompleted(ctx, ids[1], time.Second)
	require.ErrorIs(t, err, eventq.ErrItemFinalized)

	row = fetchItem(t, ctx, db, ids[1])
	require.Equal(t, eventq.StatusDeadLetter, row.status)
	require.Equal(t, "poison", row.errMsg.String)

	// Repeating a completion stays a harmless no-op.
	require.NoError(t, store.MarkCompleted(ctx, ids[0], 5*time.Second))
	row = fetchItem(t, ctx, db, ids[0])
	require.Equal(t, int64(1000), row.procMS.Int64, "first completion wins")

	// Aging out the completed row must leave the dead letter alone.
	clock.Advance(8 * 24 * time.Hour)
	deleted, err := store.CleanupOldItems(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	err = store.MarkCompleted(ctx, ids[0], time.Second)
	require.ErrorIs(t, err, eventq.ErrItemNotFound)

	row = fetchItem(t, ctx, db, ids[1])
	require.Equal(t, eventq.StatusDeadLetter, row.status)

	_, err = store.MarkFailed(ctx, ids[1], "still late", true)
	require.ErrorIs(t, err, eventq.ErrItemFinalized)
}

func TestStoreCleanupOldItemsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	clock := newStepClock(testStart)
	store, err := mysql.NewStore(db, mysql.WithClock(clock))
	require.NoError(t, err)

	ids := enqueueEvents(t, ctx, store, []eventq.Event{
		testEvent(eventq.SourceTeamwork, "old-completed"),
		testEvent(eventq.SourceTeamwork, "old-dead"),
		testEvent(eventq.SourceTeamwork, "old-pending"),
		testEvent(eventq.SourceTeamwork, "fresh-completed"),
	})

	oldCompleted := claimOne(t, ctx, store, "worker-a")
	require.NoError(t, store.MarkCompleted(ctx, oldCompleted.ID, time.Second))

	oldDead := claimOne(t, ctx, store, "worker-a")
	_, err = store.MarkFailed(ctx, oldDead.ID, "poison", false)
	require.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)

	items, err := store.Dequeue(ctx, eventq.DequeueOptions{WorkerID: "worker-a", MaxItems: 10})
	require.NoError(t, err)
	require.Len(t, items, 2)
	var freshCompleted eventq.Item
	for _, item := range items {
		if item.ExternalID == "fresh-completed" {
			freshCompleted = item
			continue
		}
		// Put the still-pending item back unprocessed.
		_, err = store.MarkFailed(ctx, item.ID, "keep pending", true)
		require.NoError(t, err)
	}
	require.NotZero(t, freshCompleted.ID)
	require.NoError(t, store.MarkCompleted(ctx, freshCompleted.ID, time.Second))

	deleted, err := store.CleanupOldItems(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted, "only completed items past retention are removed")

	var remaining int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queue_items").Scan(&remaining))
	require.Equal(t, 3, remaining)

	var gone int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queue_items WHERE id = ?", ids[0]).Scan(&gone))
	require.Zero(t, gone)

	row := fetchItem(t, ctx, db, oldDead.ID)
	require.Equal(t, eventq.StatusDeadLetter, row.status, "dead letters are kept forever")
}

func TestStoreCleanupRetentionBoundaryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	clock := newStepClock(testStart)
	store, err := mysql.NewStore(db, mysql.WithClock(clock))
	require.NoError(t, err)

	ids := enqueueEvents(t, ctx, store, []eventq.Event{testEvent(eventq.SourceTeamwork, "edge")})
	item := claimOne(t, ctx, store, "worker-a")
	require.Equal(t, ids[0], item.ID)
	require.NoError(t, store.MarkCompleted(ctx, item.ID, time.Second))

	// The item was processed at the start instant; age the clock to the
	// exact retention boundary.
	clock.Advance(7 * 24 * time.Hour)

	deleted, err := store.CleanupOldItems(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Zero(t, deleted, "an item exactly at the cutoff is not yet past retention")

	row := fetchItem(t, ctx, db, item.ID)
	require.Equal(t, eventq.StatusCompleted, row.status)

	clock.Advance(time.Second)

	deleted, err = store.CleanupOldItems(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}

func TestStoreCheckpointIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	_, err = store.GetCheckpoint(ctx, eventq.SourceTeamwork)
	require.ErrorIs(t, err, eventq.ErrCheckpointNotFound)

	firstTime := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	require.NoError(t, store.SetCheckpoint(ctx, eventq.SourceTeamwork, firstTime, "page-1"))

	cp, err := store.GetCheckpoint(ctx, eventq.SourceTeamwork)
	require.NoError(t, err)
	require.Equal(t, eventq.SourceTeamwork, cp.Source)
	require.WithinDuration(t, firstTime, cp.LastEventTime, time.Microsecond)
	require.Equal(t, "page-1", cp.LastCursor)

	secondTime := firstTime.Add(45 * time.Minute)
	require.NoError(t, store.SetCheckpoint(ctx, eventq.SourceTeamwork, secondTime, "page-7"))

	cp, err = store.GetCheckpoint(ctx, eventq.SourceTeamwork)
	require.NoError(t, err)
	require.WithinDuration(t, secondTime, cp.LastEventTime, time.Microsecond)
	require.Equal(t, "page-7", cp.LastCursor)

	// Checkpoints are independent per source.
	_, err = store.GetCheckpoint(ctx, eventq.SourceMissive)
	require.ErrorIs(t, err, eventq.ErrCheckpointNotFound)

	require.ErrorIs(t, store.SetCheckpoint(ctx, "github", time.Now(), ""), eventq.ErrUnknownSource)
}

func TestStoreHealthIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	clock := newStepClock(testStart)
	store, err := mysql.NewStore(db, mysql.WithClock(clock))
	require.NoError(t, err)

	enqueueEvents(t, ctx, store, []eventq.Event{
		testEvent(eventq.SourceTeamwork, "retrying"),
		testEvent(eventq.SourceTeamwork, "stuck"),
		testEvent(eventq.SourceTeamwork, "dead"),
		testEvent(eventq.SourceTeamwork, "done"),
	})

	claimed, err := store.Dequeue(ctx, eventq.DequeueOptions{WorkerID: "worker-a", MaxItems: 4})
	require.NoError(t, err)
	require.Len(t, claimed, 4)

	_, err = store.MarkFailed(ctx, claimed[0].ID, "flaky", true)
	require.NoError(t, err)
	_, err = store.MarkFailed(ctx, claimed[2].ID, "poison", false)
	require.NoError(t, err)
	require.NoError(t, store.MarkCompleted(ctx, claimed[3].ID, 250*time.Millisecond))

	_, err = store.Enqueue(ctx, testEvent(eventq.SourceTeamwork, "fresh"))
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, testEvent(eventq.SourceMissive, "waiting"))
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)

	report, err := store.Health(ctx)
	require.NoError(t, err)
	require.Len(t, report, 3)

	bySource := map[eventq.Source]eventq.SourceHealth{}
	for _, h := range report {
		bySource[h.Source] = h
	}

	teamwork := bySource[eventq.SourceTeamwork]
	require.Equal(t, int64(2), teamwork.Pending)
	require.Equal(t, int64(1), teamwork.Processing)
	require.Equal(t, int64(1), teamwork.Failed)
	require.Equal(t, int64(1), teamwork.DeadLetter)
	require.Equal(t, int64(1), teamwork.Stuck)
	require.Equal(t, 250*time.Millisecond, teamwork.AvgProcessingTime)
	require.GreaterOrEqual(t, teamwork.OldestPendingAge, 31*time.Minute)

	missive := bySource[eventq.SourceMissive]
	require.Equal(t, int64(1), missive.Pending)
	require.Zero(t, missive.Processing)
	require.GreaterOrEqual(t, missive.OldestPendingAge, 31*time.Minute)

	craft := bySource[eventq.SourceCraft]
	require.Zero(t, craft.Pending)
	require.Zero(t, craft.DeadLetter)
	require.Zero(t, craft.OldestPendingAge)
}

func TestStoreRecentErrorsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	clock := newStepClock(testStart)
	store, err := mysql.NewStore(db, mysql.WithClock(clock))
	require.NoError(t, err)

	enqueueEvents(t, ctx, store, []eventq.Event{
		testEvent(eventq.SourceTeamwork, "stale"),
		testEvent(eventq.SourceTeamwork, "recent-1"),
		testEvent(eventq.SourceTeamwork, "recent-2"),
	})

	stale := claimOne(t, ctx, store, "worker-a")
	_, err = store.MarkFailed(ctx, stale.ID, "stale boom", false)
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)

	first := claimOne(t, ctx, store, "worker-a")
	_, err = store.MarkFailed(ctx, first.ID, "recent boom 1", false)
	require.NoError(t, err)

	clock.Advance(time.Second)

	second := claimOne(t, ctx, store, "worker-a")
	_, err = store.MarkFailed(ctx, second.ID, "recent boom 2", false)
	require.NoError(t, err)

	records, err := store.RecentErrors(ctx, 24*time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "recent boom 2", records[0].ErrorMessage, "newest first")
	require.Equal(t, "recent boom 1", records[1].ErrorMessage)
	require.Equal(t, eventq.StatusDeadLetter, records[0].Status)
	require.Equal(t, "recent-2", records[0].ExternalID)

	limited, err := store.RecentErrors(ctx, 24*time.Hour, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, second.ID, limited[0].ID)
}

func TestStoreEnqueueTxRollbackIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = store.EnqueueTx(ctx, tx, testEvent(eventq.SourceTeamwork, "task-rollback"))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queue_items").Scan(&count))
	require.Zero(t, count, "rolled back enqueue must leave no row")

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	id, err := store.EnqueueTx(ctx, tx, testEvent(eventq.SourceTeamwork, "task-commit"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	row := fetchItem(t, ctx, db, id)
	require.Equal(t, eventq.StatusPending, row.status)
}

func TestLockerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	lockerA, err := mysql.NewLocker(db, "eventq:test")
	require.NoError(t, err)
	lockerB, err := mysql.NewLocker(db, "eventq:test")
	require.NoError(t, err)

	release, ok, err := lockerA.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, contended, err := lockerB.TryLock(ctx)
	require.NoError(t, err)
	require.False(t, contended, "second session must not obtain the lock")

	require.NoError(t, release(ctx))

	releaseB, ok, err := lockerB.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, releaseB(ctx))
}

func startMySQLContainer(t *testing.T, ctx context.Context) (testcontainers.Container, *sql.DB) {
	t.Helper()
	port := nat.Port("3306/tcp")
	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.0.36",
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "secret",
			"MYSQL_DATABASE":      "eventq",
		},
		WaitingFor: wait.ForSQL(port, "mysql", func(host string, port nat.Port) string {
			return fmt.Sprintf("root:secret@tcp(%s:%s)/eventq?parseTime=true&multiStatements=true", host, port.Port())
		}).WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start mysql container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve port: %v", err)
	}

	dsn := fmt.Sprintf("root:secret@tcp(%s:%s)/eventq?parseTime=true&multiStatements=true", host, mappedPort.Port())
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("open db: %v", err)
	}
	return container, db
}

func setupSchema(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	schema, err := mysql.Schema("queue_items")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, schema)
	require.NoError(t, err)

	checkpointSchema, err := mysql.CheckpointSchema("sync_checkpoints")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, checkpointSchema)
	require.NoError(t, err)
}

func testEvent(source eventq.Source, externalID string) eventq.Event {
	return eventq.Event{
		Source:     source,
		EventType:  "entity.updated",
		ExternalID: externalID,
		Payload:    json.RawMessage(`{"external_id":"` + externalID + `"}`),
	}
}

func enqueueEvents(t *testing.T, ctx context.Context, store *mysql.Store, events []eventq.Event) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(events))
	for _, event := range events {
		id, err := store.Enqueue(ctx, event)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func claimOne(t *testing.T, ctx context.Context, store *mysql.Store, workerID string) eventq.Item {
	t.Helper()
	items, err := store.Dequeue(ctx, eventq.DequeueOptions{WorkerID: workerID, MaxItems: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0]
}

type itemRow struct {
	status      eventq.Status
	retryCount  int
	workerID    sql.NullString
	errMsg      sql.NullString
	startedAt   sql.NullTime
	processedAt sql.NullTime
	nextRetryAt sql.NullTime
	procMS      sql.NullInt64
}

func fetchItem(t *testing.T, ctx context.Context, db *sql.DB, id int64) itemRow {
	t.Helper()
	var row itemRow
	err := db.QueryRowContext(ctx,
		"SELECT status, retry_count, worker_id, error_message, processing_started_at, processed_at, next_retry_at, processing_time_ms FROM queue_items WHERE id = ?",
		id,
	).Scan(&row.status, &row.retryCount, &row.workerID, &row.errMsg, &row.startedAt, &row.processedAt, &row.nextRetryAt, &row.procMS)
	require.NoError(t, err)
	return row
}
