package postgres

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velmie/eventq"
)

const defaultLockName = "eventq:maintenance"

// Locker serializes maintenance across processes with Postgres advisory
// locks. Lock names are hashed to the bigint key space advisory locks use.
// The lock is session-scoped, so the owning pooled connection stays pinned
// until release.
type Locker struct {
	pool *pgxpool.Pool
	key  int64
}

var _ eventq.Locker = (*Locker)(nil)

// NewLocker creates an advisory locker. An empty name uses the default.
func NewLocker(pool *pgxpool.Pool, name string) (*Locker, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}
	if name == "" {
		name = defaultLockName
	}

	return &Locker{pool: pool, key: lockKey(name)}, nil
}

func lockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))

	return int64(h.Sum64())
}

// TryLock implements eventq.Locker. It never blocks waiting for the lock.
func (l *Locker) TryLock(ctx context.Context) (func(context.Context) error, bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("eventq postgres: lock conn failed: %w", err)
	}

	var got bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&got); err != nil {
		conn.Release()

		return nil, false, fmt.Errorf("eventq postgres: acquire lock failed: %w", err)
	}
	if !got {
		conn.Release()

		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		defer conn.Release()

		var released bool
		if err := conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", l.key).Scan(&released); err != nil {
			return fmt.Errorf("eventq postgres: release lock failed: %w", err)
		}

		return nil
	}

	return release, true, nil
}
