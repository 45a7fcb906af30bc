package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"neurolens/internal/session"
)

// sqliteStore keeps archived sessions in a local SQLite file
type sqliteStore struct {
	db *sql.DB
}

func newSQLiteStore(path string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets the HTTP readers run alongside the archive writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS archived_sessions (
			id TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL,
			content_id TEXT NOT NULL DEFAULT '',
			start_time TEXT NOT NULL,
			archived_at TEXT NOT NULL,
			archived_at_unix INTEGER NOT NULL,
			reason TEXT NOT NULL,
			data_points INTEGER NOT NULL DEFAULT 0,
			history TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_sessions_time ON archived_sessions(archived_at_unix DESC)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *sqliteStore) Save(ctx context.Context, rec *Record) error {
	history, err := json.Marshal(rec.Session.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO archived_sessions
			(id, connection_id, content_id, start_time, archived_at, archived_at_unix, reason, data_points, history)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Session.ID,
		rec.Session.ConnectionID,
		rec.Session.ContentID,
		rec.Session.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.ArchivedAt.UTC().Format(time.RFC3339Nano),
		rec.ArchivedAt.UnixNano(),
		string(rec.Reason),
		len(rec.Session.History),
		string(history),
	)
	if err != nil {
		return fmt.Errorf("failed to save archived session: %w", err)
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, connection_id, content_id, start_time, archived_at, reason, history
		FROM archived_sessions WHERE id = ?`, id)

	var (
		rec                   Record
		startTime, archivedAt string
		reason, history       string
	)
	err := row.Scan(&rec.Session.ID, &rec.Session.ConnectionID, &rec.Session.ContentID,
		&startTime, &archivedAt, &reason, &history)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archived session: %w", err)
	}

	if rec.Session.CreatedAt, err = time.Parse(time.RFC3339Nano, startTime); err != nil {
		return nil, fmt.Errorf("bad start_time: %w", err)
	}
	if rec.ArchivedAt, err = time.Parse(time.RFC3339Nano, archivedAt); err != nil {
		return nil, fmt.Errorf("bad archived_at: %w", err)
	}
	rec.Reason = session.RemovalReason(reason)
	if err := json.Unmarshal([]byte(history), &rec.Session.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return &rec, nil
}

func (s *sqliteStore) List(ctx context.Context, limit int) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connection_id, content_id, start_time, archived_at, reason, data_points
		FROM archived_sessions
		ORDER BY archived_at_unix DESC
		LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list archived sessions: %w", err)
	}
	defer rows.Close()

	out := make([]Summary, 0)
	for rows.Next() {
		var (
			sum                   Summary
			startTime, archivedAt string
			reason                string
		)
		if err := rows.Scan(&sum.ID, &sum.ConnectionID, &sum.ContentID, &startTime, &archivedAt, &reason, &sum.DataPoints); err != nil {
			return nil, err
		}
		sum.StartTime, _ = time.Parse(time.RFC3339Nano, startTime)
		sum.ArchivedAt, _ = time.Parse(time.RFC3339Nano, archivedAt)
		sum.Reason = session.RemovalReason(reason)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
