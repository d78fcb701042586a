package backingstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresObjectStore implements ObjectStore against a Postgres table of
// the shape `objects(id text primary key, payload bytea, version bigint)`.
type PostgresObjectStore struct {
	pool *pgxpool.Pool
}

// NewPostgresObjectStore opens a connection pool against connString and
// verifies it with a ping before returning.
func NewPostgresObjectStore(ctx context.Context, connString string) (*PostgresObjectStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresObjectStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresObjectStore) Close() {
	s.pool.Close()
}

func (s *PostgresObjectStore) Fetch(ctx context.Context, id string) (*ObjectRecord, error) {
	var rec ObjectRecord
	err := s.pool.QueryRow(ctx,
		`SELECT payload, version FROM objects WHERE id = $1`, id,
	).Scan(&rec.Payload, &rec.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresObjectStore) Flush(ctx context.Context, id string, rec *ObjectRecord) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO objects (id, payload, version)
		VALUES ($1, $2, 1)
		ON CONFLICT (id) DO UPDATE SET
			payload = EXCLUDED.payload,
			version = objects.version + 1
		WHERE objects.version = $3
	`, id, rec.Payload, rec.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}
