package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

// records holds every collection in one table; the payload stays jsonb
// so the schema matches what the other backends store byte for byte.
const recordsSchema = `
CREATE TABLE IF NOT EXISTS records (
	collection text NOT NULL,
	key text NOT NULL,
	data jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, key)
);
CREATE INDEX IF NOT EXISTS records_collection_created_idx ON records (collection, created_at);
`

// PostgresBackend stores records in a Postgres database (Supabase-hosted
// in production).
type PostgresBackend struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgres connects to Postgres and ensures the records table exists.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresBackend, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, recordsSchema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("Failed to close database after migration error", "error", closeErr)
		}
		return nil, fmt.Errorf("ensure records table: %w", err)
	}

	return &PostgresBackend{db: db, logger: logger}, nil
}

// Get returns the record stored under key, or ErrNotFound.
func (b *PostgresBackend) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var data []byte
	err := b.db.GetContext(ctx, &data,
		`SELECT data FROM records WHERE collection = $1 AND key = $2`, collection, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select record: %w", err)
	}
	return data, nil
}

// Put stores data under key, overwriting any existing record.
func (b *PostgresBackend) Put(ctx context.Context, collection, key string, data []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO records (collection, key, data) VALUES ($1, $2, $3)
		 ON CONFLICT (collection, key) DO UPDATE SET data = EXCLUDED.data`,
		collection, key, data)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Append stores data under a generated key and returns it.
func (b *PostgresBackend) Append(ctx context.Context, collection string, data []byte) (string, error) {
	key := uuid.NewString()
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO records (collection, key, data) VALUES ($1, $2, $3)`,
		collection, key, data)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return key, nil
}

// List returns every record in a collection, oldest first.
func (b *PostgresBackend) List(ctx context.Context, collection string) ([][]byte, error) {
	var records [][]byte
	err := b.db.SelectContext(ctx, &records,
		`SELECT data FROM records WHERE collection = $1 ORDER BY created_at ASC`, collection)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	return records, nil
}

// Ping verifies the database connection.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}
