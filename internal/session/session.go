// Package session keeps the per-connection, per-content emotion history of
// live streams.
package session

import (
	"errors"
	"time"

	"neurolens/internal/emotion"
)

// DefaultCapacity bounds the history kept per session
const DefaultCapacity = 500

// DefaultMaxAge is the creation-time age after which sweeps remove a session
const DefaultMaxAge = time.Hour

var ErrNotFound = errors.New("session not found")

// FrameResult is one classification outcome recorded in a session
type FrameResult struct {
	Emotions     emotion.Vector `json:"emotions"`
	Confidence   float64        `json:"confidence"`
	FaceDetected bool           `json:"face_detected"`
	Timestamp    float64        `json:"timestamp"`
	VideoTime    float64        `json:"video_time"`
	SessionID    string         `json:"session_id,omitempty"`
	ReceivedAt   time.Time      `json:"received_at"`
}

// Session is a point-in-time copy of a session record
type Session struct {
	ID           string        `json:"session_id"`
	ConnectionID string        `json:"connection_id"`
	ContentID    string        `json:"video_url"`
	CreatedAt    time.Time     `json:"start_time"`
	History      []FrameResult `json:"emotion_history"`
}

// LastActivity is the receive time of the newest entry, or the creation time
func (s Session) LastActivity() time.Time {
	if len(s.History) == 0 {
		return s.CreatedAt
	}
	return s.History[len(s.History)-1].ReceivedAt
}

// Summary describes a session without its history
type Summary struct {
	ID              string    `json:"session_id"`
	StartTime       time.Time `json:"start_time"`
	ContentID       string    `json:"video_url"`
	DataPoints      int       `json:"data_points"`
	DurationMinutes float64   `json:"duration_minutes"`
}

// Summarize builds a Summary with the duration measured up to now
func (s Session) Summarize(now time.Time) Summary {
	return Summary{
		ID:              s.ID,
		StartTime:       s.CreatedAt,
		ContentID:       s.ContentID,
		DataPoints:      len(s.History),
		DurationMinutes: now.Sub(s.CreatedAt).Minutes(),
	}
}

// RemovalReason tells removal hooks why a session left the store
type RemovalReason string

const (
	ReasonDeleted    RemovalReason = "deleted"
	ReasonDisconnect RemovalReason = "disconnect"
	ReasonExpired    RemovalReason = "expired"
	ReasonShutdown   RemovalReason = "shutdown"
)

// RemovalHook observes sessions removed from the store. Hooks run after the
// removal is complete and outside the store locks.
type RemovalHook func(s Session, reason RemovalReason)
