package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores keys and values as rows in a single table, for
// operators who want durable cache storage without a bare filesystem. It
// implements the same pure key→bytes contract as MemoryBackend and
// FileBackend; it does not persist TTL metadata (the cache layer owns
// expiry — see SPEC_FULL.md §4.1/§6).
type PostgresBackend struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresBackend connects to dsn and ensures the backing table exists.
// table defaults to "proxy_cache_entries" when empty.
func NewPostgresBackend(ctx context.Context, dsn string, table string) (*PostgresBackend, error) {
	if table == "" {
		table = "proxy_cache_entries"
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: connect postgres: %w", err)
	}

	b := &PostgresBackend{pool: pool, table: table}
	if err := b.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key   TEXT PRIMARY KEY,
		value BYTEA NOT NULL
	)`, b.table)

	if _, err := b.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("storage: create table %s: %w", b.table, err)
	}
	return nil
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() {
	b.pool.Close()
}

func (b *PostgresBackend) Put(ctx context.Context, key string, value []byte) error {
	q := fmt.Sprintf(`INSERT INTO %s (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, b.table)

	if _, err := b.pool.Exec(ctx, q, key, value); err != nil {
		return newError("postgres", "put", key, err)
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	q := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, b.table)

	var value []byte
	err := b.pool.QueryRow(ctx, q, key).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, newError("postgres", "get", key, err)
	}
	return value, true, nil
}

func (b *PostgresBackend) Delete(ctx context.Context, key string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, b.table)

	if _, err := b.pool.Exec(ctx, q, key); err != nil {
		return newError("postgres", "delete", key, err)
	}
	return nil
}
