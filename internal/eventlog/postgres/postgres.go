// Package postgres provides a PostgreSQL-backed [eventlog.Sink].
//
// Each accepted detection becomes one row in the sound_detections table.
// [Migrate] creates the table and its index and is safe to run on every
// start.
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Append(ctx, rec)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/soundalert/internal/eventlog"
)

// Compile-time interface checks.
var (
	_ eventlog.Sink   = (*Store)(nil)
	_ eventlog.Pinger = (*Store)(nil)
)

const ddlDetections = `
CREATE TABLE IF NOT EXISTS sound_detections (
    id          BIGSERIAL    PRIMARY KEY,
    label       TEXT         NOT NULL,
    confidence  REAL         NOT NULL,
    priority    SMALLINT     NOT NULL,
    detected_at TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sound_detections_detected_at
    ON sound_detections (detected_at DESC);
`

// Migrate creates or ensures the detection table exists. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlDetections); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store writes detections to PostgreSQL. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, verifies the connection and runs
// [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres eventlog: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres eventlog: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres eventlog: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres eventlog: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool. The caller is responsible for running
// [Migrate] and for closing the pool.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append implements eventlog.Sink.
func (s *Store) Append(ctx context.Context, rec eventlog.Record) error {
	const q = `
		INSERT INTO sound_detections (label, confidence, priority, detected_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, rec.Label, rec.Confidence, rec.Priority, rec.Timestamp); err != nil {
		return fmt.Errorf("postgres eventlog: append: %w", err)
	}
	return nil
}

// Recent returns up to limit of the most recent detections, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]eventlog.Record, error) {
	const q = `
		SELECT label, confidence, priority, detected_at
		FROM   sound_detections
		ORDER  BY detected_at DESC, id DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres eventlog: recent: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (eventlog.Record, error) {
		var (
			rec      eventlog.Record
			priority int16
		)
		if err := row.Scan(&rec.Label, &rec.Confidence, &priority, &rec.Timestamp); err != nil {
			return eventlog.Record{}, err
		}
		rec.Priority = int(priority)
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres eventlog: recent: %w", err)
	}
	return records, nil
}

// Ping implements eventlog.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
