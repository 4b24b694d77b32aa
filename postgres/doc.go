// Package postgres provides a Postgres implementation of the eventq store
// on pgx v5 connection pools.
//
// Claiming is a single statement:
//
//	UPDATE ... WHERE id IN (SELECT ... FOR UPDATE SKIP LOCKED) RETURNING ...
//
// so competing workers never block each other and a claim is committed row
// state the moment Dequeue returns. Crashed claims are returned to pending
// by eventq.Maintainer via ResetStuckItems.
//
// See Schema and CheckpointSchema for table DDL, and Locker for the
// pg_try_advisory_lock wrapper used to serialize maintenance.
package postgres
