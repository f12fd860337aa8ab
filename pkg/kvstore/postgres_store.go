package kvstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore is a Store backed by a single `kv` table with a row version
// column. Atomic locks the checked rows with SELECT FOR UPDATE inside one
// database transaction; absence checks, which have no row to lock, are
// enforced by inserting without ON CONFLICT and mapping the unique violation
// to ErrTxnConflict. Together this gives the same check-and-set contract as
// the Redis and memory backends.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool. Call Migrate before
// first use to create the kv table.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ConnectPostgres establishes a pgx connection pool using the provided
// configuration, retrying per RetryAttempts/RetryInterval within the overall
// ConnectTimeout budget, and returns a store on top of it.
func ConnectPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, errors.Join(ErrPostgresNotReady, err)
	}
	poolCfg.MaxConns = cfg.MaxOpenConns
	poolCfg.MinConns = cfg.MaxIdleConns

	for range cfg.RetryAttempts {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return NewPostgresStore(pool), nil
			}
			pool.Close()
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrPostgresNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, ErrPostgresNotReady
}

// Migrate applies the embedded kv schema migrations via goose. Goose needs a
// database/sql handle, so the pgx pool is bridged through the stdlib adapter.
func (s *PostgresStore) Migrate(ctx context.Context, cfg PostgresConfig, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			log.ErrorContext(ctx, "failed to close migration db handle", "error", err)
		}
	}(db)

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseSlogAdapter{log: log})
	if cfg.MigrationsTable != "" {
		goose.SetTableName(cfg.MigrationsTable)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	return nil
}

// gooseSlogAdapter bridges goose's Printf-style logging to slog.
type gooseSlogAdapter struct {
	log *slog.Logger
}

func (a gooseSlogAdapter) Fatalf(format string, v ...any) {
	a.log.Error(fmt.Sprintf(format, v...))
}

func (a gooseSlogAdapter) Printf(format string, v ...any) {
	a.log.Info(fmt.Sprintf(format, v...))
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, Version, error) {
	var value []byte
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT value, version FROM kv WHERE key = $1`, key,
	).Scan(&value, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, ErrKeyNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("pg get %q: %w", key, err)
	}
	return value, Version(version), nil
}

// Set implements Store.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv (key, value, version) VALUES ($1, $2, nextval('kv_version_seq'))
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, version = nextval('kv_version_seq')`,
		key, value)
	if err != nil {
		return fmt.Errorf("pg set %q: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("pg delete %q: %w", key, err)
	}
	return nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, prefix, cursor string, limit int) ([]Entry, string, error) {
	if limit <= 0 {
		return nil, "", ErrInvalidLimit
	}

	// Range bounds instead of LIKE so no pattern escaping is needed.
	lower := prefix
	inclusive := true
	if cursor != "" {
		lower = cursor
		inclusive = false
	}

	query := `SELECT key, value, version FROM kv WHERE key >= $1`
	if !inclusive {
		query = `SELECT key, value, version FROM kv WHERE key > $1`
	}
	args := []any{lower}
	if end := prefixRangeEnd(prefix); end != "" {
		query += ` AND key < $2`
		args = append(args, end)
	}
	query += fmt.Sprintf(` ORDER BY key LIMIT %d`, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("pg list %q: %w", prefix, err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var version int64
		if err := rows.Scan(&e.Key, &e.Value, &version); err != nil {
			return nil, "", fmt.Errorf("pg list %q: %w", prefix, err)
		}
		e.Version = Version(version)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("pg list %q: %w", prefix, err)
	}

	next := ""
	if len(entries) > limit {
		entries = entries[:limit]
		next = entries[len(entries)-1].Key
	}
	return entries, next, nil
}

// Atomic implements Store.
func (s *PostgresStore) Atomic(ctx context.Context, txn Transaction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pg atomic: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock rows in key order so concurrent transactions cannot deadlock.
	checks := slices.Clone(txn.Checks)
	slices.SortFunc(checks, func(a, b Check) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})

	// SELECT FOR UPDATE on a missing row locks nothing, so a zero-version
	// check cannot be enforced by locking alone. Those keys are written with
	// a plain INSERT below and the unique constraint arbitrates the race.
	mustNotExist := make(map[string]struct{})

	for _, c := range checks {
		var version int64
		err := tx.QueryRow(ctx,
			`SELECT version FROM kv WHERE key = $1 FOR UPDATE`, c.Key,
		).Scan(&version)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			if c.Version != 0 {
				return ErrTxnConflict
			}
			mustNotExist[c.Key] = struct{}{}
		case err != nil:
			return fmt.Errorf("pg atomic: check %q: %w", c.Key, err)
		default:
			if c.Version == 0 || Version(version) != c.Version {
				return ErrTxnConflict
			}
		}
	}

	for _, w := range txn.Writes {
		if w.Delete {
			if _, err := tx.Exec(ctx, `DELETE FROM kv WHERE key = $1`, w.Key); err != nil {
				return fmt.Errorf("pg atomic: delete %q: %w", w.Key, err)
			}
			continue
		}
		if _, insertOnly := mustNotExist[w.Key]; insertOnly {
			_, err := tx.Exec(ctx,
				`INSERT INTO kv (key, value, version) VALUES ($1, $2, nextval('kv_version_seq'))`,
				w.Key, w.Value)
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrTxnConflict
			}
			if err != nil {
				return fmt.Errorf("pg atomic: write %q: %w", w.Key, err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO kv (key, value, version) VALUES ($1, $2, nextval('kv_version_seq'))
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, version = nextval('kv_version_seq')`,
			w.Key, w.Value); err != nil {
			return fmt.Errorf("pg atomic: write %q: %w", w.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pg atomic: commit: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
