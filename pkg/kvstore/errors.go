package kvstore

import "errors"

var (
	// ErrKeyNotFound is returned by Get when the key does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrTxnConflict is returned by Atomic when a version check fails. It is
	// an expected outcome under concurrent writers, not a storage failure;
	// callers should re-read and retry their logic.
	ErrTxnConflict = errors.New("transaction conflict: version check failed")

	// ErrInvalidLimit is returned by List when limit is not positive.
	ErrInvalidLimit = errors.New("list limit must be positive")

	// ErrRedisNotReady is returned when the Redis server did not become
	// reachable within the configured retry budget.
	ErrRedisNotReady = errors.New("redis did not become ready within the given time period")

	// ErrPostgresNotReady is returned when the Postgres server did not become
	// reachable within the configured retry budget.
	ErrPostgresNotReady = errors.New("postgres did not become ready within the given time period")

	// ErrFailedToApplyMigrations wraps goose failures while preparing the kv schema.
	ErrFailedToApplyMigrations = errors.New("failed to apply kv store migrations")
)
