// Package analytics aggregates emotion history per session and across sessions.
package analytics

import (
	"neurolens/internal/emotion"
	"neurolens/internal/session"
)

// PeakThreshold is the confidence above which an entry counts as a peak
const PeakThreshold = 0.8

// Peak is a high-confidence history entry
type Peak struct {
	Emotion    emotion.Label `json:"emotion"`
	Confidence float64       `json:"confidence"`
	VideoTime  float64       `json:"video_time"`
	Timestamp  float64       `json:"timestamp"`
}

// SessionAnalytics summarizes one session's history. Empty is set when the
// session has no entries, in which case the other fields are zero.
type SessionAnalytics struct {
	Empty             bool            `json:"-"`
	AverageEmotions   *emotion.Vector `json:"average_emotions,omitempty"`
	Peaks             []Peak          `json:"emotion_peaks,omitempty"`
	TotalPeaks        int             `json:"total_peaks"`
	AverageConfidence float64         `json:"average_confidence"`
}

// GlobalSummary aggregates every entry of every live session
type GlobalSummary struct {
	Empty             bool            `json:"-"`
	Message           string          `json:"message,omitempty"`
	TotalSessions     int             `json:"total_sessions"`
	TotalDataPoints   int             `json:"total_data_points"`
	AverageConfidence float64         `json:"average_confidence"`
	AverageEmotions   *emotion.Vector `json:"average_emotions_across_sessions,omitempty"`
	MostCommonEmotion emotion.Label   `json:"most_common_emotion,omitempty"`
}

// NoSessionsMessage is reported by GlobalSummary for an empty store
const NoSessionsMessage = "No active sessions"

// Source is the read side of the session store
type Source interface {
	Get(id string) (session.Session, error)
	Snapshots() []session.Session
}

// Engine computes analytics over a Source. It never mutates sessions.
type Engine struct {
	source Source
}

// NewEngine creates an analytics engine
func NewEngine(source Source) *Engine {
	return &Engine{source: source}
}

// SessionAnalytics computes analytics for one live session. Unknown ids
// return session.ErrNotFound.
func (e *Engine) SessionAnalytics(id string) (SessionAnalytics, error) {
	_, a, err := e.SessionDetail(id)
	return a, err
}

// SessionDetail returns one snapshot of the session together with the
// analytics computed over that same snapshot.
func (e *Engine) SessionDetail(id string) (session.Session, SessionAnalytics, error) {
	s, err := e.source.Get(id)
	if err != nil {
		return session.Session{}, SessionAnalytics{}, err
	}
	return s, Analyze(s.History), nil
}

// Analyze computes analytics over a history
func Analyze(history []session.FrameResult) SessionAnalytics {
	if len(history) == 0 {
		return SessionAnalytics{Empty: true}
	}

	vectors := make([]emotion.Vector, 0, len(history))
	peaks := make([]Peak, 0)
	var confidence float64
	for _, fr := range history {
		vectors = append(vectors, fr.Emotions)
		confidence += fr.Confidence
		if fr.Confidence > PeakThreshold {
			peaks = append(peaks, Peak{
				Emotion:    fr.Emotions.Dominant(),
				Confidence: fr.Confidence,
				VideoTime:  fr.VideoTime,
				Timestamp:  fr.Timestamp,
			})
		}
	}

	avg := emotion.Mean(vectors)
	return SessionAnalytics{
		AverageEmotions:   &avg,
		Peaks:             peaks,
		TotalPeaks:        len(peaks),
		AverageConfidence: confidence / float64(len(history)),
	}
}

// GlobalSummary flattens every session's history. With no sessions it
// returns the explicit empty state.
func (e *Engine) GlobalSummary() GlobalSummary {
	sessions := e.source.Snapshots()
	if len(sessions) == 0 {
		return GlobalSummary{Empty: true, Message: NoSessionsMessage}
	}

	var (
		vectors    []emotion.Vector
		confidence float64
		counts     = make(map[emotion.Label]int, len(emotion.Labels))
	)
	for _, s := range sessions {
		for _, fr := range s.History {
			vectors = append(vectors, fr.Emotions)
			confidence += fr.Confidence
			counts[fr.Emotions.Dominant()]++
		}
	}

	summary := GlobalSummary{
		TotalSessions:   len(sessions),
		TotalDataPoints: len(vectors),
	}
	if len(vectors) == 0 {
		summary.MostCommonEmotion = emotion.Neutral
		return summary
	}

	avg := emotion.Mean(vectors)
	summary.AverageEmotions = &avg
	summary.AverageConfidence = confidence / float64(len(vectors))
	summary.MostCommonEmotion = mostCommon(counts)
	return summary
}

// mostCommon picks the label with the highest count; ties go to the earlier label
func mostCommon(counts map[emotion.Label]int) emotion.Label {
	best := emotion.Labels[0]
	for _, l := range emotion.Labels[1:] {
		if counts[l] > counts[best] {
			best = l
		}
	}
	return best
}
