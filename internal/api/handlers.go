package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"neurolens/internal/analytics"
	"neurolens/internal/archive"
	"neurolens/internal/auth"
	"neurolens/internal/emitter"
	"neurolens/internal/emotion"
	"neurolens/internal/session"
	"neurolens/internal/stream"
)

const sessionNotFound = "Session not found"

type notFoundResponse struct {
	Error     string `json:"error"`
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeNotFound answers with 200 and an error body, which is what clients of
// the query routes expect for unknown sessions.
func writeNotFound(w http.ResponseWriter, id string) {
	writeJSON(w, http.StatusOK, notFoundResponse{Error: sessionNotFound, SessionID: id})
}

type rootResponse struct {
	Message string `json:"message"`
	Model   string `json:"model"`
	Backend string `json:"backend"`
	Version string `json:"version"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{
		Message: fmt.Sprintf("%s backend running", s.Info.Name),
		Model:   s.Info.Model,
		Backend: s.Info.Backend,
		Version: s.Info.Version,
	})
}

type healthResponse struct {
	Status            string               `json:"status"`
	Timestamp         time.Time            `json:"timestamp"`
	ActiveConnections int                  `json:"active_connections"`
	ActiveSessions    int                  `json:"active_sessions"`
	ModelLoaded       bool                 `json:"model_loaded"`
	ClassifierError   string               `json:"classifier_error,omitempty"`
	UptimeSeconds     float64              `json:"uptime_seconds"`
	Version           string               `json:"version"`
	Frames            stream.Stats         `json:"frames"`
	Archive           *archive.WriterStats `json:"archive,omitempty"`
	MQTT              *emitter.Stats       `json:"mqtt,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	resp := healthResponse{
		Status:         "healthy",
		Timestamp:      now,
		ActiveSessions: s.Sessions.Count(),
		ModelLoaded:    s.ModelLoaded == nil || s.ModelLoaded.Load(),
		UptimeSeconds:  now.Sub(s.startTime).Seconds(),
		Version:        s.Info.Version,
	}
	if s.Connections != nil {
		resp.ActiveConnections = s.Connections.Count()
	}
	if s.Frames != nil {
		resp.Frames = s.Frames.Stats()
	}
	if s.ArchiveWriter != nil {
		st := s.ArchiveWriter.Stats()
		resp.Archive = &st
	}
	if s.Emitter != nil {
		st := s.Emitter.Stats()
		resp.MQTT = &st
	}
	if err := s.checkHealth(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.ClassifierError = err.Error()
		s.Logger.Warn("classifier health check failed", "error", err)
	}

	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Model             string            `json:"model"`
	Backend           string            `json:"backend"`
	Emotions          []emotion.Label   `json:"emotions"`
	EmotionMapping    map[string]string `json:"emotion_mapping"`
	Policy            emotion.Policy    `json:"accumulation_policy"`
	ActiveSessions    int               `json:"active_sessions"`
	ServerStartTime   time.Time         `json:"server_start_time"`
	UptimeMinutes     float64           `json:"uptime_minutes"`
	SessionMaxMinutes float64           `json:"session_max_age_minutes"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Model:             s.Info.Model,
		Backend:           s.Info.Backend,
		Emotions:          emotion.Labels,
		EmotionMapping:    map[string]string{},
		ActiveSessions:    s.Sessions.Count(),
		ServerStartTime:   s.startTime,
		UptimeMinutes:     s.now().Sub(s.startTime).Minutes(),
		SessionMaxMinutes: s.SessionMaxAge.Minutes(),
	}
	if s.Normalizer != nil {
		resp.Policy = s.Normalizer.Policy()
		for raw, l := range s.Normalizer.Mapping() {
			resp.EmotionMapping[raw] = string(l)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type sessionListResponse struct {
	TotalSessions int               `json:"total_sessions"`
	Sessions      []session.Summary `json:"sessions"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.Sessions.List()
	writeJSON(w, http.StatusOK, sessionListResponse{TotalSessions: len(list), Sessions: list})
}

type sessionDetailResponse struct {
	session.Summary
	History   []session.FrameResult `json:"emotion_history"`
	Analytics any                   `json:"analytics"`
}

// analyticsBody renders an empty history as {}
func analyticsBody(a analytics.SessionAnalytics) any {
	if a.Empty {
		return struct{}{}
	}
	return a
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, stats, err := s.Analytics.SessionDetail(id)
	if errors.Is(err, session.ErrNotFound) {
		writeNotFound(w, id)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, sessionDetailResponse{
		Summary:   snap.Summarize(s.now()),
		History:   snap.History,
		Analytics: analyticsBody(stats),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.Sessions.Delete(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeNotFound(w, id)
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	s.Logger.Info("session deleted", "session_id", id)
	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Session %s deleted successfully", id)})
}

type cleanupResponse struct {
	Message           string `json:"message"`
	SessionsRemoved   int    `json:"sessions_removed"`
	RemainingSessions int    `json:"remaining_sessions"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removed := s.Sessions.SweepExpired(s.SessionMaxAge)
	writeJSON(w, http.StatusOK, cleanupResponse{
		Message:           "Cleanup completed",
		SessionsRemoved:   removed,
		RemainingSessions: s.Sessions.Count(),
	})
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	summary := s.Analytics.GlobalSummary()
	if summary.Empty {
		writeJSON(w, http.StatusOK, messageResponse{Message: summary.Message})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type archiveListResponse struct {
	Total    int               `json:"total"`
	Sessions []archive.Summary `json:"sessions"`
}

func (s *Server) handleListArchive(w http.ResponseWriter, r *http.Request) {
	if s.Archive == nil {
		writeJSON(w, http.StatusOK, archiveListResponse{Sessions: []archive.Summary{}})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	list, err := s.Archive.List(r.Context(), limit)
	if err != nil {
		s.Logger.Error("failed to list archived sessions", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list archived sessions"})
		return
	}
	writeJSON(w, http.StatusOK, archiveListResponse{Total: len(list), Sessions: list})
}

type archivedSessionResponse struct {
	*archive.Record
	DataPoints int `json:"data_points"`
	Analytics  any `json:"analytics"`
}

func (s *Server) handleGetArchived(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.Archive == nil {
		writeNotFound(w, id)
		return
	}

	rec, err := s.Archive.Get(r.Context(), id)
	if errors.Is(err, archive.ErrNotFound) {
		writeNotFound(w, id)
		return
	}
	if err != nil {
		s.Logger.Error("failed to load archived session", "session_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load archived session"})
		return
	}

	writeJSON(w, http.StatusOK, archivedSessionResponse{
		Record:     rec,
		DataPoints: len(rec.Session.History),
		Analytics:  analyticsBody(analytics.Analyze(rec.Session.History)),
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.Auth == nil || !s.Auth.IsEnabled() {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: auth.ErrAuthDisabled.Error()})
		return
	}

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	token, expiresAt, err := s.Auth.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.Logger.Warn("failed login", "username", req.Username, "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to issue token"})
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}
