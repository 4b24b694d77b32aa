// Package redlock provides a Redis-backed eventq.Locker built on
// bsm/redislock, for deployments that already run Redis and want
// maintenance coordination without database advisory locks.
package redlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/velmie/eventq"
)

const (
	defaultLockName = "eventq:maintenance"
	defaultTTL      = 30 * time.Second
)

// ErrClientRequired is returned when no Redis client is supplied.
var ErrClientRequired = errors.New("eventq redlock: redis client is required")

// Locker acquires a named Redis lock with a TTL. Unlike the database
// advisory lockers the lock expires on its own, so the TTL must exceed
// the longest expected maintenance pass.
type Locker struct {
	client *redislock.Client
	name   string
	ttl    time.Duration
}

var _ eventq.Locker = (*Locker)(nil)

// Option adjusts locker behavior.
type Option func(*Locker)

// WithTTL overrides the default 30s lock expiry.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// NewLocker creates a Redis locker. An empty name uses the default.
func NewLocker(client redis.UniversalClient, name string, opts ...Option) (*Locker, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	if name == "" {
		name = defaultLockName
	}

	l := &Locker{client: redislock.New(client), name: name, ttl: defaultTTL}
	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// TryLock implements eventq.Locker. It never blocks waiting for the lock.
func (l *Locker) TryLock(ctx context.Context) (func(context.Context) error, bool, error) {
	lock, err := l.client.Obtain(ctx, l.name, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("eventq redlock: acquire lock failed: %w", err)
	}

	release := func(ctx context.Context) error {
		// An expired lock is already gone; that is not a release failure.
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("eventq redlock: release lock failed: %w", err)
		}

		return nil
	}

	return release, true, nil
}
