// Package eventq provides a durable, database-backed event queue with
// per-source checkpoints for resumable incremental sync.
//
// Typical flow:
//  1. A producer (webhook receiver or backfill scanner) enqueues change events using a storage-specific Store.
//  2. A Runner polls the Store, claims batches using row locks that skip contended rows, and invokes a Handler per item.
//  3. On success the item is completed; on failure it is retried with backoff or dead-lettered once the retry budget is spent.
//  4. A Maintainer periodically returns abandoned claims to pending and deletes completed items past retention.
//
// Delivery is at least once: a claim abandoned by a crashed worker is
// reclaimed after a stuck threshold and handed to another worker, so
// handlers must be idempotent. For storage backends see the mysql and
// postgres packages.
package eventq
