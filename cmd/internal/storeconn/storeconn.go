// Package storeconn opens driver-specific eventq stores for the command
// line tools, so each tool takes the same -driver/-dsn/-table flags.
package storeconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velmie/eventq"
	"github.com/velmie/eventq/mysql"
	"github.com/velmie/eventq/postgres"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"

	DefaultTable           = "queue_items"
	DefaultCheckpointTable = "sync_checkpoints"
)

var (
	ErrDSNRequired   = errors.New("storeconn: dsn is required")
	ErrUnknownDriver = errors.New("storeconn: unknown driver")
)

// Config selects the driver and table layout.
type Config struct {
	Driver          string
	DSN             string
	Table           string
	CheckpointTable string
	// MaxRetries overrides the default retry budget stamped on enqueued
	// events. Zero keeps the store default.
	MaxRetries int
}

// Conn bundles an opened store with its underlying connection handle.
type Conn struct {
	Store eventq.Store

	driver          string
	table           string
	checkpointTable string
	db              *sql.DB
	pool            *pgxpool.Pool
}

// Open connects per cfg.Driver and builds the matching store. Connections
// are established lazily, so Open succeeding does not prove the DSN works.
func Open(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.DSN == "" {
		return nil, ErrDSNRequired
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.CheckpointTable == "" {
		cfg.CheckpointTable = DefaultCheckpointTable
	}

	switch cfg.Driver {
	case DriverMySQL:
		return openMySQL(cfg)
	case DriverPostgres:
		return openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

func openMySQL(cfg Config) (*Conn, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("storeconn: open mysql: %w", err)
	}

	opts := []mysql.Option{
		mysql.WithTable(cfg.Table),
		mysql.WithCheckpointTable(cfg.CheckpointTable),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, mysql.WithMaxRetries(cfg.MaxRetries))
	}
	store, err := mysql.NewStore(db, opts...)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return &Conn{
		Store:           store,
		driver:          DriverMySQL,
		table:           cfg.Table,
		checkpointTable: cfg.CheckpointTable,
		db:              db,
	}, nil
}

func openPostgres(ctx context.Context, cfg Config) (*Conn, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("storeconn: open postgres: %w", err)
	}

	opts := []postgres.Option{
		postgres.WithTable(cfg.Table),
		postgres.WithCheckpointTable(cfg.CheckpointTable),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, postgres.WithMaxRetries(cfg.MaxRetries))
	}
	store, err := postgres.NewStore(pool, opts...)
	if err != nil {
		pool.Close()

		return nil, err
	}

	return &Conn{
		Store:           store,
		driver:          DriverPostgres,
		table:           cfg.Table,
		checkpointTable: cfg.CheckpointTable,
		pool:            pool,
	}, nil
}

// Driver returns the selected driver name.
func (c *Conn) Driver() string { return c.driver }

// Table returns the configured queue table name.
func (c *Conn) Table() string { return c.table }

// CheckpointTable returns the configured checkpoint table name.
func (c *Conn) CheckpointTable() string { return c.checkpointTable }

// Close releases the underlying connections.
func (c *Conn) Close() {
	if c.db != nil {
		_ = c.db.Close()
	}
	if c.pool != nil {
		c.pool.Close()
	}
}

// NewLocker builds a driver-native advisory locker.
func (c *Conn) NewLocker(name string) (eventq.Locker, error) {
	if c.driver == DriverMySQL {
		return mysql.NewLocker(c.db, name)
	}

	return postgres.NewLocker(c.pool, name)
}

// Schemas returns the driver-specific DDL for the configured tables.
func (c *Conn) Schemas() ([]string, error) {
	var items, checkpoints string
	var err error
	if c.driver == DriverMySQL {
		if items, err = mysql.Schema(c.table); err != nil {
			return nil, err
		}
		if checkpoints, err = mysql.CheckpointSchema(c.checkpointTable); err != nil {
			return nil, err
		}
	} else {
		if items, err = postgres.Schema(c.table); err != nil {
			return nil, err
		}
		if checkpoints, err = postgres.CheckpointSchema(c.checkpointTable); err != nil {
			return nil, err
		}
	}

	return []string{items, checkpoints}, nil
}

// Exec runs one statement against the underlying connection. The bench
// tool uses it for table resets.
func (c *Conn) Exec(ctx context.Context, stmt string) error {
	if c.db != nil {
		_, err := c.db.ExecContext(ctx, stmt)

		return err
	}
	_, err := c.pool.Exec(ctx, stmt)

	return err
}
