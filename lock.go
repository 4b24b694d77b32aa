package eventq

import "context"

// Locker serializes maintenance passes across processes so only one
// instance sweeps at a time. Implementations live next to their backing
// store (MySQL GET_LOCK, Postgres advisory locks, Redis).
type Locker interface {
	// TryLock attempts to acquire the lock without blocking. When ok is
	// true the caller must call release exactly once. When the lock is
	// held elsewhere, TryLock returns ok=false and no error.
	TryLock(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}
