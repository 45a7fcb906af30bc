// Package api serves the HTTP query surface and mounts the streaming endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"neurolens/internal/analytics"
	"neurolens/internal/archive"
	"neurolens/internal/auth"
	"neurolens/internal/detection"
	"neurolens/internal/emitter"
	"neurolens/internal/emotion"
	"neurolens/internal/middleware"
	"neurolens/internal/session"
	"neurolens/internal/stream"
)

// Info describes the running service on the banner and status routes
type Info struct {
	Name    string
	Version string
	Model   string
	Backend string
}

// Sessions is the live session store as seen by the query surface
type Sessions interface {
	analytics.Source
	Delete(id string) error
	Count() int
	List() []session.Summary
	SweepExpired(maxAge time.Duration) int
}

// ConnectionCounter reports live streaming connections
type ConnectionCounter interface {
	Count() int
}

// FrameStats reports per-frame counters
type FrameStats interface {
	Stats() stream.Stats
}

// Server holds the dependencies of the query surface. Optional collaborators
// (Archive, ArchiveWriter, Emitter, Health, WebSocket) may be nil.
type Server struct {
	Info          Info
	Sessions      Sessions
	Analytics     *analytics.Engine
	Normalizer    *emotion.Normalizer
	Connections   ConnectionCounter
	Frames        FrameStats
	Archive       archive.Store
	ArchiveWriter *archive.Writer
	Emitter       *emitter.MQTTEmitter
	Health        detection.HealthChecker
	Auth          *auth.Authenticator
	WebSocket     http.Handler
	SessionMaxAge time.Duration
	CORSOrigins   []string
	ModelLoaded   *atomic.Bool
	Logger        *slog.Logger

	startTime time.Time
	now       func() time.Time
}

// Router builds the chi router for every route
func (s *Server) Router() http.Handler {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	s.Logger = s.Logger.With("component", "api")
	if s.now == nil {
		s.now = time.Now
	}
	if s.startTime.IsZero() {
		s.startTime = s.now()
	}
	if s.Analytics == nil {
		s.Analytics = analytics.NewEngine(s.Sessions)
	}
	if s.SessionMaxAge <= 0 {
		s.SessionMaxAge = session.DefaultMaxAge
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(s.CORSOrigins))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Get("/sessions", s.handleListSessions)
	r.Get("/session/{id}", s.handleGetSession)
	r.Get("/analytics/summary", s.handleAnalyticsSummary)

	r.Get("/archive/sessions", s.handleListArchive)
	r.Get("/archive/session/{id}", s.handleGetArchived)

	r.Post("/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		if s.Auth != nil {
			r.Use(middleware.RequireToken(s.Auth))
		}
		r.Delete("/session/{id}", s.handleDeleteSession)
		r.Delete("/sessions/cleanup", s.handleCleanup)
	})

	if s.WebSocket != nil {
		r.Handle("/ws", s.WebSocket)
	}

	return r
}

func (s *Server) checkHealth(ctx context.Context) error {
	if s.Health == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Health.CheckHealth(ctx)
}
