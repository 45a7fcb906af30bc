package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurolens/internal/analytics"
	"neurolens/internal/archive"
	"neurolens/internal/auth"
	"neurolens/internal/emotion"
	"neurolens/internal/session"
	"neurolens/internal/stream"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type countConnections int

func (c countConnections) Count() int { return int(c) }

type fixedFrames stream.Stats

func (f fixedFrames) Stats() stream.Stats { return stream.Stats(f) }

type failingHealth struct{}

func (failingHealth) CheckHealth(ctx context.Context) error { return errors.New("sidecar unavailable") }

type fixture struct {
	server   *Server
	sessions *session.Store
	archive  archive.Store
	clock    *fakeClock
	http     *httptest.Server
}

func newFixture(t *testing.T, mutate ...func(*Server)) *fixture {
	t.Helper()

	clock := &fakeClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	sessions := session.NewStore(session.WithClock(clock.Now))
	store, err := archive.NewStore(context.Background(), archive.StoreTypeMemory)
	require.NoError(t, err)

	loaded := &atomic.Bool{}
	loaded.Store(true)

	srv := &Server{
		Info:          Info{Name: "NeuroLens", Version: "1.0.0", Model: "trpakov/vit-face-expression", Backend: "grpc"},
		Sessions:      sessions,
		Normalizer:    emotion.NewNormalizer(emotion.PolicyMax, nil),
		Connections:   countConnections(2),
		Frames:        fixedFrames{Processed: 7, Failed: 1},
		Archive:       store,
		SessionMaxAge: time.Hour,
		ModelLoaded:   loaded,
		now:           clock.Now,
	}
	for _, m := range mutate {
		m(srv)
	}

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &fixture{server: srv, sessions: sessions, archive: store, clock: clock, http: ts}
}

func (f *fixture) do(t *testing.T, method, path string, header http.Header) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func (f *fixture) get(t *testing.T, path string) map[string]any {
	t.Helper()
	status, body := f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, status)
	return body
}

func result(joy, neutral, confidence float64) session.FrameResult {
	return session.FrameResult{
		Emotions:     emotion.FromMap(map[string]float64{"joy": joy, "neutral": neutral}),
		Confidence:   confidence,
		FaceDetected: true,
		Timestamp:    1700000000000,
		VideoTime:    12.5,
	}
}

func TestRoot(t *testing.T) {
	f := newFixture(t)
	body := f.get(t, "/")

	assert.Equal(t, "trpakov/vit-face-expression", body["model"])
	assert.Equal(t, "grpc", body["backend"])
	assert.Equal(t, "1.0.0", body["version"])
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	_, err := f.sessions.Record("conn", "video", result(1, 0, 1))
	require.NoError(t, err)
	f.clock.Advance(90 * time.Second)

	body := f.get(t, "/health")
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(2), body["active_connections"])
	assert.Equal(t, float64(1), body["active_sessions"])
	assert.Equal(t, true, body["model_loaded"])
	assert.Equal(t, float64(90), body["uptime_seconds"])
	frames := body["frames"].(map[string]any)
	assert.Equal(t, float64(7), frames["frames_processed"])
	assert.Equal(t, float64(1), frames["frames_failed"])
	assert.NotContains(t, body, "mqtt")
}

func TestHealthDegraded(t *testing.T) {
	f := newFixture(t, func(s *Server) { s.Health = failingHealth{} })
	body := f.get(t, "/health")

	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "sidecar unavailable", body["classifier_error"])
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	body := f.get(t, "/status")

	assert.Equal(t, []any{"joy", "surprise", "anger", "sadness", "neutral"}, body["emotions"])
	mapping := body["emotion_mapping"].(map[string]any)
	assert.Equal(t, "surprise", mapping["fear"])
	assert.Equal(t, "anger", mapping["disgust"])
	assert.Equal(t, "max", body["accumulation_policy"])
	assert.Equal(t, float64(60), body["session_max_age_minutes"])
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	body := f.get(t, "/sessions")
	assert.Equal(t, float64(0), body["total_sessions"])
	assert.Empty(t, body["sessions"])

	id, err := f.sessions.Record("conn", "https://video/1", result(1, 0, 0.9))
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)

	body = f.get(t, "/sessions")
	assert.Equal(t, float64(1), body["total_sessions"])
	list := body["sessions"].([]any)
	require.Len(t, list, 1)
	entry := list[0].(map[string]any)
	assert.Equal(t, id, entry["session_id"])
	assert.Equal(t, "https://video/1", entry["video_url"])
	assert.Equal(t, float64(1), entry["data_points"])
	assert.Equal(t, float64(30), entry["duration_minutes"])
}

func TestGetSession(t *testing.T) {
	f := newFixture(t)
	id, err := f.sessions.Record("conn", "video", result(1, 0, 1))
	require.NoError(t, err)
	_, err = f.sessions.Record("conn", "video", result(0, 1, 0.5))
	require.NoError(t, err)

	body := f.get(t, "/session/"+id)
	assert.Equal(t, id, body["session_id"])
	assert.Equal(t, float64(2), body["data_points"])
	assert.Len(t, body["emotion_history"], 2)

	stats := body["analytics"].(map[string]any)
	assert.Equal(t, float64(1), stats["total_peaks"])
	assert.InDelta(t, 0.75, stats["average_confidence"], 1e-9)
	avg := stats["average_emotions"].(map[string]any)
	assert.InDelta(t, 0.5, avg["joy"], 1e-9)
	assert.InDelta(t, 0.5, avg["neutral"], 1e-9)
	peaks := stats["emotion_peaks"].([]any)
	assert.Equal(t, "joy", peaks[0].(map[string]any)["emotion"])
}

// archivedSource serves sessions that are not in the live store
type archivedSource map[string]session.Session

func (a archivedSource) Get(id string) (session.Session, error) {
	s, ok := a[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return s, nil
}

func (a archivedSource) Snapshots() []session.Session { return nil }

func TestGetSessionUsesAnalyticsEngine(t *testing.T) {
	source := archivedSource{"elsewhere": {
		ID:      "elsewhere",
		History: []session.FrameResult{result(0, 1, 0.95), result(0, 1, 0.85)},
	}}
	f := newFixture(t, func(s *Server) { s.Analytics = analytics.NewEngine(source) })

	body := f.get(t, "/session/elsewhere")
	assert.Equal(t, "elsewhere", body["session_id"])
	assert.Equal(t, float64(2), body["data_points"])
	stats := body["analytics"].(map[string]any)
	assert.Equal(t, float64(2), stats["total_peaks"])
	assert.InDelta(t, 0.9, stats["average_confidence"], 1e-9)
}

func TestGetSessionNotFound(t *testing.T) {
	f := newFixture(t)
	body := f.get(t, "/session/nope")

	assert.Equal(t, map[string]any{"error": "Session not found", "session_id": "nope"}, body)
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)
	id, err := f.sessions.Record("conn", "video", result(1, 0, 1))
	require.NoError(t, err)

	status, body := f.do(t, http.MethodDelete, "/session/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, fmt.Sprintf("Session %s deleted successfully", id), body["message"])
	assert.Equal(t, 0, f.sessions.Count())

	_, body = f.do(t, http.MethodDelete, "/session/"+id, nil)
	assert.Equal(t, "Session not found", body["error"])
	assert.Equal(t, id, body["session_id"])
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	_, err := f.sessions.Record("old", "video", result(1, 0, 1))
	require.NoError(t, err)
	f.clock.Advance(61 * time.Minute)
	_, err = f.sessions.Record("new", "video", result(1, 0, 1))
	require.NoError(t, err)

	status, body := f.do(t, http.MethodDelete, "/sessions/cleanup", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Cleanup completed", body["message"])
	assert.Equal(t, float64(1), body["sessions_removed"])
	assert.Equal(t, float64(1), body["remaining_sessions"])
}

func TestAnalyticsSummary(t *testing.T) {
	f := newFixture(t)
	body := f.get(t, "/analytics/summary")
	assert.Equal(t, map[string]any{"message": "No active sessions"}, body)

	_, err := f.sessions.Record("a", "video", result(1, 0, 1))
	require.NoError(t, err)
	_, err = f.sessions.Record("b", "video", result(0, 1, 0.5))
	require.NoError(t, err)
	_, err = f.sessions.Record("b", "video", result(0, 1, 0.6))
	require.NoError(t, err)

	body = f.get(t, "/analytics/summary")
	assert.Equal(t, float64(2), body["total_sessions"])
	assert.Equal(t, float64(3), body["total_data_points"])
	assert.InDelta(t, 0.7, body["average_confidence"], 1e-9)
	assert.Equal(t, "neutral", body["most_common_emotion"])
	avg := body["average_emotions_across_sessions"].(map[string]any)
	assert.InDelta(t, 1.0/3, avg["joy"], 1e-9)
}

func TestArchiveRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := &archive.Record{
		Session: session.Session{
			ID:        "archived-1",
			ContentID: "video",
			CreatedAt: f.clock.Now(),
			History:   []session.FrameResult{result(1, 0, 0.95)},
		},
		Reason:     session.ReasonDisconnect,
		ArchivedAt: f.clock.Now(),
	}
	require.NoError(t, f.archive.Save(ctx, rec))

	body := f.get(t, "/archive/sessions?limit=10")
	assert.Equal(t, float64(1), body["total"])

	body = f.get(t, "/archive/session/archived-1")
	assert.Equal(t, "disconnect", body["reason"])
	assert.Equal(t, float64(1), body["data_points"])
	stats := body["analytics"].(map[string]any)
	assert.Equal(t, float64(1), stats["total_peaks"])

	body = f.get(t, "/archive/session/missing")
	assert.Equal(t, "Session not found", body["error"])

	status, _ := f.do(t, http.MethodGet, "/archive/sessions?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestArchiveRoutesWithoutStore(t *testing.T) {
	f := newFixture(t, func(s *Server) { s.Archive = nil })

	body := f.get(t, "/archive/sessions")
	assert.Equal(t, float64(0), body["total"])
	body = f.get(t, "/archive/session/x")
	assert.Equal(t, "Session not found", body["error"])
}

func TestMutatingRoutesRequireToken(t *testing.T) {
	authenticator, err := auth.NewAuthenticator(auth.Config{
		Enabled:   true,
		Username:  "admin",
		Password:  "s3cret",
		JWTSecret: "test-secret",
	})
	require.NoError(t, err)

	f := newFixture(t, func(s *Server) { s.Auth = authenticator })
	id, err := f.sessions.Record("conn", "video", result(1, 0, 1))
	require.NoError(t, err)

	status, _ := f.do(t, http.MethodDelete, "/session/"+id, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 1, f.sessions.Count())

	// Reads stay open
	f.get(t, "/session/"+id)

	resp, err := http.Post(f.http.URL+"/auth/login", "application/json", strings.NewReader(`{"username":"admin","password":"wrong"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Post(f.http.URL+"/auth/login", "application/json", strings.NewReader(`{"username":"admin","password":"s3cret"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login loginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	require.NotEmpty(t, login.Token)

	status, body := f.do(t, http.MethodDelete, "/session/"+id, http.Header{"Authorization": {"Bearer " + login.Token}})
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body["message"], "deleted successfully")
	assert.Equal(t, 0, f.sessions.Count())
}

func TestLoginDisabled(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.http.URL+"/auth/login", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketMount(t *testing.T) {
	f := newFixture(t, func(s *Server) {
		s.WebSocket = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "upgrade")
		})
	})

	resp, err := http.Get(f.http.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "upgrade", string(data))
}
