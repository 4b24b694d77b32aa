package postgres

import "errors"

var (
	// ErrPoolRequired is returned when a nil *pgxpool.Pool is provided.
	ErrPoolRequired = errors.New("eventq postgres: pool is required")
	// ErrExecutorRequired is returned when enqueue is called with a nil executor.
	ErrExecutorRequired = errors.New("eventq postgres: executor is required")
	// ErrTableNameRequired is returned when a table name is empty.
	ErrTableNameRequired = errors.New("eventq postgres: table name is required")
	// ErrInvalidTableName is returned when a table name has disallowed characters.
	ErrInvalidTableName = errors.New("eventq postgres: invalid table name")
)
