package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/devrev/pairdb/docsync/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Schema is the canonical tenant-scoped collection table
const Schema = `
	CREATE TABLE IF NOT EXISTS collections (
		tenant_id  TEXT        NOT NULL,
		key        TEXT        NOT NULL,
		value      JSONB       NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		origin     TEXT        NOT NULL DEFAULT '',
		PRIMARY KEY (tenant_id, key)
	)
`

// PostgresStore implements RecordStore for PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgreSQL record store
func NewPostgresStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresStoreWithPool(pool, logger), nil
}

// NewPostgresStoreWithPool wraps an existing pool
func NewPostgresStoreWithPool(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger,
	}
}

// EnsureSchema creates the collections table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create collections table: %w", err)
	}
	return nil
}

// Get retrieves the record for (tenantID, key)
func (s *PostgresStore) Get(ctx context.Context, tenantID, key string) (*model.RemoteRecord, error) {
	query := `
		SELECT tenant_id, key, value, updated_at, origin
		FROM collections
		WHERE tenant_id = $1 AND key = $2
	`

	var rec model.RemoteRecord
	var value []byte
	err := s.pool.QueryRow(ctx, query, tenantID, key).Scan(
		&rec.TenantID,
		&rec.Key,
		&value,
		&rec.UpdatedAt,
		&rec.Origin,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	rec.Value = value
	return &rec, nil
}

// Put creates or overwrites the record for (rec.TenantID, rec.Key)
func (s *PostgresStore) Put(ctx context.Context, rec *model.RemoteRecord) error {
	query := `
		INSERT INTO collections (tenant_id, key, value, updated_at, origin)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at, origin = EXCLUDED.origin
	`

	_, err := s.pool.Exec(ctx, query,
		rec.TenantID,
		rec.Key,
		string(rec.Value),
		rec.UpdatedAt,
		rec.Origin,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert collection: %w", err)
	}

	s.logger.Debug("Upserted collection",
		zap.String("tenant_id", rec.TenantID),
		zap.String("key", rec.Key),
		zap.Int("size", len(rec.Value)))

	return nil
}

// ListKeys returns every key stored for a tenant
func (s *PostgresStore) ListKeys(ctx context.Context, tenantID string) ([]string, error) {
	query := `SELECT key FROM collections WHERE tenant_id = $1 ORDER BY key`

	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan collection key: %w", err)
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}
