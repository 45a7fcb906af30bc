// Package archive persists sessions after they leave the live store.
package archive

import (
	"context"
	"errors"
	"time"

	"neurolens/internal/session"
)

var (
	ErrNotFound         = errors.New("archived session not found")
	ErrInvalidStoreType = errors.New("invalid archive store type")
	ErrInvalidConfig    = errors.New("invalid archive store configuration")
)

// DefaultListLimit caps List when no limit is given
const DefaultListLimit = 100

// Record is the final snapshot of a removed session
type Record struct {
	Session    session.Session       `json:"session"`
	Reason     session.RemovalReason `json:"reason"`
	ArchivedAt time.Time             `json:"archived_at"`
}

// Summary describes an archived session without its history
type Summary struct {
	ID           string                `json:"session_id"`
	ConnectionID string                `json:"connection_id"`
	ContentID    string                `json:"video_url"`
	StartTime    time.Time             `json:"start_time"`
	ArchivedAt   time.Time             `json:"archived_at"`
	Reason       session.RemovalReason `json:"reason"`
	DataPoints   int                   `json:"data_points"`
}

// Summarize builds the record's summary
func (r *Record) Summarize() Summary {
	return Summary{
		ID:           r.Session.ID,
		ConnectionID: r.Session.ConnectionID,
		ContentID:    r.Session.ContentID,
		StartTime:    r.Session.CreatedAt,
		ArchivedAt:   r.ArchivedAt,
		Reason:       r.Reason,
		DataPoints:   len(r.Session.History),
	}
}

// Store persists archived sessions
type Store interface {
	// Save writes a record, replacing any record with the same session id
	Save(ctx context.Context, rec *Record) error

	// Get returns the record for a session id or ErrNotFound
	Get(ctx context.Context, id string) (*Record, error)

	// List returns summaries, most recently archived first. A non-positive
	// limit uses DefaultListLimit.
	List(ctx context.Context, limit int) ([]Summary, error)

	// Close releases the store's resources
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
