// Package mysql provides a MySQL 8.0+ implementation of the eventq store.
//
// Claiming uses:
//   - READ COMMITTED isolation (to avoid gap locks)
//   - SELECT ... FOR UPDATE SKIP LOCKED
//   - ORDER BY created_at for arrival ordering
//   - LIMIT for batching
//
// Unlike a lease held inside an open transaction, a claim here is a
// committed row state (status=processing plus worker_id), so it survives
// worker crashes and is reclaimed by eventq.Maintainer via ResetStuckItems.
//
// The DSN must enable parseTime=true. See Schema and CheckpointSchema for
// table DDL, and Locker for the advisory lock used to serialize maintenance
// across processes.
package mysql
