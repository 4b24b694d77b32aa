package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/velmie/eventq"
)

const defaultLockName = "eventq:maintenance"

// Locker serializes maintenance across processes with MySQL advisory locks
// (GET_LOCK / RELEASE_LOCK). The lock is session-scoped, so the owning
// pooled connection stays pinned until release.
type Locker struct {
	db   *sql.DB
	name string
}

var _ eventq.Locker = (*Locker)(nil)

// NewLocker creates an advisory locker. An empty name uses the default.
func NewLocker(db *sql.DB, name string) (*Locker, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if name == "" {
		name = defaultLockName
	}

	return &Locker{db: db, name: name}, nil
}

// TryLock implements eventq.Locker. It never blocks waiting for the lock.
func (l *Locker) TryLock(ctx context.Context) (func(context.Context) error, bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("eventq mysql: lock conn failed: %w", err)
	}

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", l.name).Scan(&got); err != nil {
		_ = conn.Close()

		return nil, false, fmt.Errorf("eventq mysql: acquire lock failed: %w", err)
	}
	if !got.Valid || got.Int64 == 0 {
		_ = conn.Close()

		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		defer conn.Close()

		var released sql.NullInt64
		if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", l.name).Scan(&released); err != nil {
			return fmt.Errorf("eventq mysql: release lock failed: %w", err)
		}

		return nil
	}

	return release, true, nil
}
