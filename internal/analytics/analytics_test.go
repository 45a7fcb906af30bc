package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurolens/internal/emotion"
	"neurolens/internal/session"
)

func vec(m map[string]float64) emotion.Vector {
	return emotion.FromMap(m)
}

func record(t *testing.T, s *session.Store, conn, content string, v emotion.Vector, confidence, videoTime float64) {
	t.Helper()
	_, err := s.Record(conn, content, session.FrameResult{
		Emotions:   v,
		Confidence: confidence,
		Timestamp:  videoTime + 1000,
		VideoTime:  videoTime,
	})
	require.NoError(t, err)
}

func TestSessionDetail(t *testing.T) {
	store := session.NewStore()
	record(t, store, "c", "v", vec(map[string]float64{"joy": 1}), 0.9, 1)
	id := store.ResolveOrCreate("c", "v")

	snap, a, err := NewEngine(store).SessionDetail(id)
	require.NoError(t, err)
	assert.Equal(t, id, snap.ID)
	require.Len(t, snap.History, 1)
	assert.Equal(t, 1, a.TotalPeaks)
	assert.InDelta(t, 0.9, a.AverageConfidence, 1e-9)

	_, _, err = NewEngine(store).SessionDetail("missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSessionAnalytics(t *testing.T) {
	store := session.NewStore()
	record(t, store, "c", "v", vec(map[string]float64{"joy": 0.9, "neutral": 0.1}), 1.0, 1)
	record(t, store, "c", "v", vec(map[string]float64{"anger": 0.5, "neutral": 0.5}), 0.6, 2)
	record(t, store, "c", "v", vec(map[string]float64{"sadness": 0.7, "neutral": 0.3}), 0.84, 3)
	id := store.ResolveOrCreate("c", "v")

	a, err := NewEngine(store).SessionAnalytics(id)
	require.NoError(t, err)

	assert.False(t, a.Empty)
	require.NotNil(t, a.AverageEmotions)
	assert.InDelta(t, 0.3, a.AverageEmotions.Get(emotion.Joy), 1e-9)
	assert.InDelta(t, 0.5/3, a.AverageEmotions.Get(emotion.Anger), 1e-9)
	assert.InDelta(t, 0.3, a.AverageEmotions.Get(emotion.Neutral), 1e-9)
	assert.InDelta(t, 1.0, a.AverageEmotions.Sum(), emotion.Tolerance)

	require.Len(t, a.Peaks, 2)
	assert.Equal(t, 2, a.TotalPeaks)
	assert.Equal(t, emotion.Joy, a.Peaks[0].Emotion)
	assert.Equal(t, float64(1), a.Peaks[0].VideoTime)
	assert.Equal(t, emotion.Sadness, a.Peaks[1].Emotion)
	assert.InDelta(t, (1.0+0.6+0.84)/3, a.AverageConfidence, 1e-9)
}

func TestPeakThresholdIsExclusive(t *testing.T) {
	a := Analyze([]session.FrameResult{
		{Emotions: emotion.Degenerate(), Confidence: 0.8},
		{Emotions: emotion.Degenerate(), Confidence: 0.81},
	})
	assert.Equal(t, 1, a.TotalPeaks)
	assert.Equal(t, emotion.Neutral, a.Peaks[0].Emotion)
}

func TestSessionAnalyticsNotFound(t *testing.T) {
	_, err := NewEngine(session.NewStore()).SessionAnalytics("missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSessionAnalyticsEmptyHistory(t *testing.T) {
	store := session.NewStore()
	id := store.ResolveOrCreate("c", "v")

	a, err := NewEngine(store).SessionAnalytics(id)
	require.NoError(t, err)
	assert.True(t, a.Empty)
	assert.Nil(t, a.AverageEmotions)
	assert.Zero(t, a.TotalPeaks)
}

func TestGlobalSummaryEmptyStore(t *testing.T) {
	summary := NewEngine(session.NewStore()).GlobalSummary()

	assert.True(t, summary.Empty)
	assert.Equal(t, NoSessionsMessage, summary.Message)
	assert.Zero(t, summary.TotalSessions)
	assert.Nil(t, summary.AverageEmotions)
}

func TestGlobalSummary(t *testing.T) {
	store := session.NewStore()
	joy := vec(map[string]float64{"joy": 0.8, "neutral": 0.2})
	anger := vec(map[string]float64{"anger": 1})
	record(t, store, "a", "v1", joy, 0.96, 1)
	record(t, store, "a", "v1", joy, 0.96, 2)
	record(t, store, "b", "v2", anger, 1.0, 1)
	store.ResolveOrCreate("c", "idle")

	summary := NewEngine(store).GlobalSummary()

	assert.False(t, summary.Empty)
	assert.Equal(t, 3, summary.TotalSessions)
	assert.Equal(t, 3, summary.TotalDataPoints)
	assert.InDelta(t, (0.96*2+1.0)/3, summary.AverageConfidence, 1e-9)
	require.NotNil(t, summary.AverageEmotions)
	assert.InDelta(t, 1.6/3, summary.AverageEmotions.Get(emotion.Joy), 1e-9)
	assert.InDelta(t, 1.0/3, summary.AverageEmotions.Get(emotion.Anger), 1e-9)
	assert.Equal(t, emotion.Joy, summary.MostCommonEmotion)
}

func TestGlobalSummarySessionsWithoutEntries(t *testing.T) {
	store := session.NewStore()
	store.ResolveOrCreate("a", "v")

	summary := NewEngine(store).GlobalSummary()

	assert.False(t, summary.Empty)
	assert.Equal(t, 1, summary.TotalSessions)
	assert.Zero(t, summary.TotalDataPoints)
	assert.Equal(t, emotion.Neutral, summary.MostCommonEmotion)
}

func TestMostCommonTieBreaksInLabelOrder(t *testing.T) {
	counts := map[emotion.Label]int{emotion.Sadness: 2, emotion.Surprise: 2, emotion.Neutral: 1}
	assert.Equal(t, emotion.Surprise, mostCommon(counts))
}
