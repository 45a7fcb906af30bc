package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"neurolens/internal/session"
)

// postgresStore keeps archived sessions in PostgreSQL, history as JSONB
type postgresStore struct {
	pool *pgxpool.Pool
}

func newPostgresStore(ctx context.Context, dsn string) (*postgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s, err := newPostgresStoreFromPool(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresStoreFromPool(ctx context.Context, pool *pgxpool.Pool) (*postgresStore, error) {
	if err := initSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return &postgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS archived_sessions (
			id TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL,
			content_id TEXT NOT NULL DEFAULT '',
			start_time TIMESTAMPTZ NOT NULL,
			archived_at TIMESTAMPTZ NOT NULL,
			reason TEXT NOT NULL,
			data_points INT NOT NULL DEFAULT 0,
			history JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS archived_sessions_archived_at_idx ON archived_sessions (archived_at DESC);
	`)
	return err
}

func (s *postgresStore) Save(ctx context.Context, rec *Record) error {
	history, err := json.Marshal(rec.Session.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO archived_sessions
			(id, connection_id, content_id, start_time, archived_at, reason, data_points, history)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			archived_at = EXCLUDED.archived_at,
			reason = EXCLUDED.reason,
			data_points = EXCLUDED.data_points,
			history = EXCLUDED.history
	`, rec.Session.ID, rec.Session.ConnectionID, rec.Session.ContentID,
		rec.Session.CreatedAt, rec.ArchivedAt, string(rec.Reason), len(rec.Session.History), history)
	return err
}

func (s *postgresStore) Get(ctx context.Context, id string) (*Record, error) {
	var (
		rec     Record
		reason  string
		history []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, connection_id, content_id, start_time, archived_at, reason, history
		FROM archived_sessions WHERE id = $1
	`, id).Scan(&rec.Session.ID, &rec.Session.ConnectionID, &rec.Session.ContentID,
		&rec.Session.CreatedAt, &rec.ArchivedAt, &reason, &history)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Reason = session.RemovalReason(reason)
	if err := json.Unmarshal(history, &rec.Session.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return &rec, nil
}

func (s *postgresStore) List(ctx context.Context, limit int) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, connection_id, content_id, start_time, archived_at, reason, data_points
		FROM archived_sessions
		ORDER BY archived_at DESC
		LIMIT $1
	`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Summary, 0)
	for rows.Next() {
		var (
			sum    Summary
			reason string
		)
		if err := rows.Scan(&sum.ID, &sum.ConnectionID, &sum.ContentID, &sum.StartTime, &sum.ArchivedAt, &reason, &sum.DataPoints); err != nil {
			return nil, err
		}
		sum.Reason = session.RemovalReason(reason)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Reset drops the archive table
func (s *postgresStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS archived_sessions`)
	return err
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
