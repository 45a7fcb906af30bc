package archive

import (
	"context"
	"sort"
	"sync"
)

// DefaultMemoryLimit bounds the memory store when no limit is configured
const DefaultMemoryLimit = 1000

// memoryStore keeps records in a map, evicting the oldest archived record
// once the limit is reached.
type memoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	limit   int
}

func newMemoryStore(limit int) *memoryStore {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &memoryStore{records: make(map[string]*Record), limit: limit}
}

func (s *memoryStore) Save(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.Session.ID]; !exists && len(s.records) >= s.limit {
		var oldest *Record
		for _, r := range s.records {
			if oldest == nil || r.ArchivedAt.Before(oldest.ArchivedAt) {
				oldest = r
			}
		}
		delete(s.records, oldest.Session.ID)
	}

	cp := *rec
	s.records[rec.Session.ID] = &cp
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memoryStore) List(ctx context.Context, limit int) ([]Summary, error) {
	s.mu.RLock()
	out := make([]Summary, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Summarize())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ArchivedAt.After(out[j].ArchivedAt)
	})
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*Record)
	return nil
}
