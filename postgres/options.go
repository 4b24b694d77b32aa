package postgres

import (
	"time"

	"github.com/velmie/eventq"
)

const (
	defaultTable           = "queue_items"
	defaultCheckpointTable = "sync_checkpoints"
	defaultMaxRetries      = 3
	defaultStuckThreshold  = 30 * time.Minute
	defaultSweepLimit      = 10000
)

// Config defines Postgres store behavior.
type Config struct {
	// Table is the queue table name. Use schema.table for a non-default schema.
	Table string
	// CheckpointTable is the per-source checkpoint table name.
	CheckpointTable string
	// MaxRetries is the retry budget stamped on events enqueued without one.
	MaxRetries int
	// StuckThreshold is the claim age after which Health counts an item as stuck.
	StuckThreshold time.Duration
	// SweepLimit caps the number of rows deleted per CleanupOldItems call.
	SweepLimit int
	// Clock overrides the time source (useful for tests).
	Clock eventq.Clock
	// ValidateJSON enables payload validation on enqueue.
	ValidateJSON    bool
	validateJSONSet bool
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.CheckpointTable == "" {
		c.CheckpointTable = defaultCheckpointTable
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = defaultStuckThreshold
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = defaultSweepLimit
	}
	if c.Clock == nil {
		c.Clock = eventq.SystemClock{}
	}
	if !c.validateJSONSet {
		c.ValidateJSON = true
	}

	return c
}

// Option configures the Postgres store.
type Option func(*Config)

// WithTable sets the queue table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithCheckpointTable sets the checkpoint table name.
func WithCheckpointTable(name string) Option {
	return func(c *Config) {
		c.CheckpointTable = name
	}
}

// WithMaxRetries sets the default retry budget for enqueued events.
func WithMaxRetries(retries int) Option {
	return func(c *Config) {
		c.MaxRetries = retries
	}
}

// WithStuckThreshold sets the claim age used by Health to count stuck items.
func WithStuckThreshold(threshold time.Duration) Option {
	return func(c *Config) {
		c.StuckThreshold = threshold
	}
}

// WithSweepLimit caps the rows deleted per cleanup call.
func WithSweepLimit(limit int) Option {
	return func(c *Config) {
		c.SweepLimit = limit
	}
}

// WithClock sets the time source used by the store.
func WithClock(clock eventq.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithValidateJSON enables or disables payload validation on enqueue.
func WithValidateJSON(enabled bool) Option {
	return func(c *Config) {
		c.ValidateJSON = enabled
		c.validateJSONSet = true
	}
}
