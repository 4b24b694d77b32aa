package eventq

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultStuckThreshold  = 30 * time.Minute
	defaultRetention       = 7 * 24 * time.Hour
	defaultReclaimInterval = time.Minute
	defaultCleanupInterval = time.Hour
)

// MaintainerConfig controls the background maintenance sweeps.
type MaintainerConfig struct {
	// StuckThreshold is how long a claim may stay processing before it is
	// treated as abandoned. Zero uses the default of 30 minutes.
	StuckThreshold time.Duration
	// Retention is how long completed items are kept before deletion.
	// Zero uses the default of 7 days.
	Retention time.Duration
	// ReclaimInterval is the time between stuck-item sweeps.
	ReclaimInterval time.Duration
	// CleanupInterval is the time between retention sweeps.
	CleanupInterval time.Duration
	// Locker optionally serializes sweeps across processes. A contended
	// lock skips the pass instead of waiting.
	Locker Locker
	// Clock overrides the time source (useful for tests).
	Clock Clock
	// Logger receives sweep results and failures.
	Logger Logger
	// Metrics receives reclaim and sweep counts.
	Metrics Metrics
}

// Maintainer periodically returns abandoned claims to pending and deletes
// completed items past retention. Any number of instances may run; when a
// Locker is configured only one performs each pass.
//
// The reclaimer cannot tell a dead worker from a slow one. A slow worker's
// item may be reclaimed and handed to a second worker while the first is
// still finishing, which is why handlers must be idempotent.
type Maintainer struct {
	store MaintenanceStore
	cfg   MaintainerConfig
}

// NewMaintainer creates a Maintainer with defaults applied.
func NewMaintainer(store MaintenanceStore, cfg MaintainerConfig) (*Maintainer, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if cfg.StuckThreshold == 0 {
		cfg.StuckThreshold = defaultStuckThreshold
	}
	if cfg.StuckThreshold < 0 {
		return nil, ErrInvalidThreshold
	}
	if cfg.Retention == 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Retention < 0 {
		return nil, ErrInvalidRetention
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = defaultReclaimInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}

	return &Maintainer{store: store, cfg: cfg}, nil
}

// Run performs both sweeps immediately and then on their intervals until
// the context is canceled.
func (m *Maintainer) Run(ctx context.Context) error {
	reclaim := time.NewTicker(m.cfg.ReclaimInterval)
	defer reclaim.Stop()
	cleanup := time.NewTicker(m.cfg.CleanupInterval)
	defer cleanup.Stop()

	m.reclaimPass(ctx)
	m.cleanupPass(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reclaim.C:
			m.reclaimPass(ctx)
		case <-cleanup.C:
			m.cleanupPass(ctx)
		}
	}
}

func (m *Maintainer) reclaimPass(ctx context.Context) {
	if _, err := m.ReclaimOnce(ctx); err != nil && ctx.Err() == nil {
		m.cfg.Logger.Warn("eventq reclaim failed", "err", err)
	}
}

func (m *Maintainer) cleanupPass(ctx context.Context) {
	if _, err := m.CleanupOnce(ctx); err != nil && ctx.Err() == nil {
		m.cfg.Logger.Warn("eventq cleanup failed", "err", err)
	}
}

// ReclaimOnce executes a single stuck-item sweep. It returns the number of
// claims returned to pending, or zero with no error when the lock is
// contended.
func (m *Maintainer) ReclaimOnce(ctx context.Context) (int64, error) {
	return m.withLock(ctx, func(ctx context.Context) (int64, error) {
		count, err := m.store.ResetStuckItems(ctx, m.cfg.StuckThreshold)
		if err != nil {
			return 0, err
		}
		if count > 0 {
			m.cfg.Logger.Info("eventq reclaimed stuck items", "count", count, "threshold", m.cfg.StuckThreshold)
		}
		m.cfg.Metrics.AddReclaimed(int(count))

		return count, nil
	})
}

// CleanupOnce executes a single retention sweep. It returns the number of
// completed items deleted, or zero with no error when the lock is contended.
func (m *Maintainer) CleanupOnce(ctx context.Context) (int64, error) {
	return m.withLock(ctx, func(ctx context.Context) (int64, error) {
		count, err := m.store.CleanupOldItems(ctx, m.cfg.Retention)
		if err != nil {
			return 0, err
		}
		if count > 0 {
			m.cfg.Logger.Info("eventq deleted expired items", "count", count, "retention", m.cfg.Retention)
		}
		m.cfg.Metrics.AddSwept(int(count))

		return count, nil
	})
}

func (m *Maintainer) withLock(ctx context.Context, pass func(context.Context) (int64, error)) (int64, error) {
	if m.cfg.Locker == nil {
		return pass(ctx)
	}

	release, ok, err := m.cfg.Locker.TryLock(ctx)
	if err != nil {
		return 0, fmt.Errorf("eventq maintenance lock: %w", err)
	}
	if !ok {
		m.cfg.Logger.Debug("eventq maintenance lock held by another instance")

		return 0, nil
	}
	defer func() {
		if releaseErr := release(ctx); releaseErr != nil {
			m.cfg.Logger.Warn("eventq maintenance lock release failed", "err", releaseErr)
		}
	}()

	return pass(ctx)
}
