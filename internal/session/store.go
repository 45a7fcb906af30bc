package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ownerKey is the secondary index: one live session per (connection, content)
type ownerKey struct {
	connectionID string
	contentID    string
}

// record is the mutable state behind a session key. Its mutex serializes
// appends and snapshots for that key; removed is set once the record has
// left the index so that late appends fail instead of writing into a
// detached session.
type record struct {
	mu        sync.Mutex
	id        string
	owner     ownerKey
	createdAt time.Time
	history   *ring
	removed   bool
}

func (r *record) snapshot() Session {
	return Session{
		ID:           r.id,
		ConnectionID: r.owner.connectionID,
		ContentID:    r.owner.contentID,
		CreatedAt:    r.createdAt,
		History:      r.history.items(),
	}
}

// Store owns every live session
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
	owners  map[ownerKey]string

	capacity int
	now      func() time.Time
	newID    func() string
	hooks    []RemovalHook
	logger   *slog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithCapacity overrides the per-session history bound
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the uuid session key generator
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithRemovalHook registers a hook called for every removed session
func WithRemovalHook(h RemovalHook) Option {
	return func(s *Store) {
		if h != nil {
			s.hooks = append(s.hooks, h)
		}
	}
}

// WithLogger sets the store logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty session store
func NewStore(opts ...Option) *Store {
	s := &Store{
		records:  make(map[string]*record),
		owners:   make(map[ownerKey]string),
		capacity: DefaultCapacity,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	return s
}

// Capacity returns the per-session history bound
func (s *Store) Capacity() int {
	return s.capacity
}

// ResolveOrCreate returns the key of the live session for the pair, creating
// one if none is tracked.
func (s *Store) ResolveOrCreate(connectionID, contentID string) string {
	owner := ownerKey{connectionID: connectionID, contentID: contentID}

	s.mu.RLock()
	id, ok := s.owners[owner]
	s.mu.RUnlock()
	if ok {
		return id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have created it between the locks
	if id, ok := s.owners[owner]; ok {
		return id
	}

	id = s.newID()
	for _, taken := s.records[id]; taken; _, taken = s.records[id] {
		id = s.newID()
	}

	s.records[id] = &record{
		id:        id,
		owner:     owner,
		createdAt: s.now(),
		history:   newRing(s.capacity),
	}
	s.owners[owner] = id

	s.logger.Debug("session created", "session_id", id, "connection_id", connectionID, "content_id", contentID)
	return id
}

func (s *Store) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// Append adds a result to the session history, evicting the oldest entry once
// the history is at capacity. Appends to one key are applied in call order.
func (s *Store) Append(id string, fr FrameResult) error {
	r, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.removed {
		return ErrNotFound
	}
	if fr.ReceivedAt.IsZero() {
		fr.ReceivedAt = s.now()
	}
	fr.SessionID = id
	r.history.push(fr)
	return nil
}

// Record resolves the session for the pair and appends the result to it. If
// the resolved session is removed before the append lands, resolution is
// retried once.
func (s *Store) Record(connectionID, contentID string, fr FrameResult) (string, error) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		id := s.ResolveOrCreate(connectionID, contentID)
		if err = s.Append(id, fr); err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrNotFound) {
			break
		}
	}
	return "", err
}

// Get returns a snapshot of the session
func (s *Store) Get(id string) (Session, error) {
	r, ok := s.lookup(id)
	if !ok {
		return Session{}, ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return Session{}, ErrNotFound
	}
	return r.snapshot(), nil
}

// Delete removes one session. Unknown keys report ErrNotFound.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	r, ok := s.records[id]
	if ok {
		s.unindex(r)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.finalize([]*record{r}, ReasonDeleted)
	return nil
}

// DeleteAllForConnection removes every session owned by the connection and
// returns how many were removed.
func (s *Store) DeleteAllForConnection(connectionID string) int {
	return s.removeWhere(func(r *record) bool {
		return r.owner.connectionID == connectionID
	}, ReasonDisconnect)
}

// SweepExpired removes every session created more than maxAge ago,
// regardless of recent appends.
func (s *Store) SweepExpired(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	return s.removeWhere(func(r *record) bool {
		return r.createdAt.Before(cutoff)
	}, ReasonExpired)
}

// Close removes every remaining session
func (s *Store) Close() int {
	return s.removeWhere(func(*record) bool { return true }, ReasonShutdown)
}

func (s *Store) removeWhere(match func(*record) bool, reason RemovalReason) int {
	s.mu.Lock()
	var removed []*record
	for _, r := range s.records {
		if match(r) {
			s.unindex(r)
			removed = append(removed, r)
		}
	}
	s.mu.Unlock()

	s.finalize(removed, reason)
	if len(removed) > 0 {
		s.logger.Info("sessions removed", "count", len(removed), "reason", string(reason))
	}
	return len(removed)
}

// unindex drops the record from both indexes. Caller holds s.mu.
func (s *Store) unindex(r *record) {
	delete(s.records, r.id)
	if s.owners[r.owner] == r.id {
		delete(s.owners, r.owner)
	}
}

// finalize marks detached records removed and hands their last snapshot to
// the removal hooks.
func (s *Store) finalize(removed []*record, reason RemovalReason) {
	for _, r := range removed {
		r.mu.Lock()
		r.removed = true
		var snap Session
		if len(s.hooks) > 0 {
			snap = r.snapshot()
		}
		r.mu.Unlock()

		for _, h := range s.hooks {
			h(snap, reason)
		}
	}
}

// Count returns the number of live sessions
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) live() []*record {
	s.mu.RLock()
	out := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// Snapshots copies every live session, oldest first
func (s *Store) Snapshots() []Session {
	records := s.live()
	out := make([]Session, 0, len(records))
	for _, r := range records {
		r.mu.Lock()
		if !r.removed {
			out = append(out, r.snapshot())
		}
		r.mu.Unlock()
	}
	return out
}

// List summarizes every live session, oldest first
func (s *Store) List() []Summary {
	now := s.now()
	records := s.live()
	out := make([]Summary, 0, len(records))
	for _, r := range records {
		r.mu.Lock()
		if !r.removed {
			out = append(out, Summary{
				ID:              r.id,
				StartTime:       r.createdAt,
				ContentID:       r.owner.contentID,
				DataPoints:      r.history.len(),
				DurationMinutes: now.Sub(r.createdAt).Minutes(),
			})
		}
		r.mu.Unlock()
	}
	return out
}
