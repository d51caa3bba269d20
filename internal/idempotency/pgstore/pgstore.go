// Package pgstore implements idempotency.Store on PostgreSQL using a pgx pool.
//
// The key column is the primary key. Reserve and Put are single upserts whose
// ON CONFLICT ... WHERE clause decides whether the existing row may be taken
// over, so concurrency control stays inside the database.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tbourn/go-idempotent-orders/internal/idempotency"
)

// Store persists records in the idempotency_records table.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New returns a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// NewPool opens and verifies a connection pool for databaseURL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Get returns the live record for key.
func (s *Store) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	const query = `
		SELECT token, state, status_code, content_type, location, body, created_at, expires_at
		FROM idempotency_records
		WHERE key = $1 AND expires_at > $2
	`
	rec := idempotency.Record{Key: key}
	var state string
	err := s.pool.QueryRow(ctx, query, key, s.now().UTC()).Scan(
		&rec.Token,
		&state,
		&rec.StatusCode,
		&rec.ContentType,
		&rec.Location,
		&rec.Body,
		&rec.CreatedAt,
		&rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, idempotency.ErrNotFound
		}
		return nil, fmt.Errorf("select idempotency record: %w", err)
	}
	rec.State = idempotency.State(state)
	return &rec, nil
}

// Reserve inserts a pending row, taking over an expired one if present.
func (s *Store) Reserve(ctx context.Context, key, token string, ttl time.Duration) error {
	const query = `
		INSERT INTO idempotency_records (key, token, state, status_code, content_type, location, body, created_at, expires_at)
		VALUES ($1, $2, 'pending', 0, '', '', NULL, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			token = EXCLUDED.token,
			state = EXCLUDED.state,
			status_code = 0,
			content_type = '',
			location = '',
			body = NULL,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.expires_at <= EXCLUDED.created_at
	`
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx, query, key, token, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("reserve idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrConflict
	}
	return nil
}

// Put stores the completed record. An existing row is overwritten only when
// it is the caller's own reservation, a pending row, or expired.
func (s *Store) Put(ctx context.Context, rec *idempotency.Record, ttl time.Duration) error {
	const query = `
		INSERT INTO idempotency_records (key, token, state, status_code, content_type, location, body, created_at, expires_at)
		VALUES ($1, $2, 'completed', $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key) DO UPDATE SET
			token = EXCLUDED.token,
			state = EXCLUDED.state,
			status_code = EXCLUDED.status_code,
			content_type = EXCLUDED.content_type,
			location = EXCLUDED.location,
			body = EXCLUDED.body,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.state <> 'completed'
		   OR idempotency_records.token = EXCLUDED.token
		   OR idempotency_records.expires_at <= $9
	`
	now := s.now().UTC()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	tag, err := s.pool.Exec(ctx, query,
		rec.Key, rec.Token, rec.StatusCode, rec.ContentType, rec.Location, rec.Body,
		created.UTC(), now.Add(ttl), now,
	)
	if err != nil {
		return fmt.Errorf("store idempotency record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrConflict
	}
	return nil
}

// Release deletes the pending reservation owned by token.
func (s *Store) Release(ctx context.Context, key, token string) error {
	const query = `DELETE FROM idempotency_records WHERE key = $1 AND token = $2 AND state = 'pending'`
	if _, err := s.pool.Exec(ctx, query, key, token); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// PurgeExpired deletes rows expired at now and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
