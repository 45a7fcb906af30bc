package archive

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"neurolens/internal/session"
)

// WriterStats counts what happened to enqueued records
type WriterStats struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// Writer persists records on a single background worker. Enqueue never
// blocks: records arriving while the queue is full are dropped.
type Writer struct {
	store       Store
	queue       chan *Record
	logger      *slog.Logger
	saveTimeout time.Duration
	now         func() time.Time
	mu          sync.RWMutex
	closed      bool
	done        chan struct{}
	written     atomic.Uint64
	failed      atomic.Uint64
	dropped     atomic.Uint64
}

// NewWriter starts a writer in front of store
func NewWriter(store Store, queueSize int, logger *slog.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Writer{
		store:       store,
		queue:       make(chan *Record, queueSize),
		logger:      logger.With("component", "archive"),
		saveTimeout: 5 * time.Second,
		now:         time.Now,
		done:        make(chan struct{}),
	}
	go w.run()
	return w
}

// Hook returns a session removal hook that archives every removed session
func (w *Writer) Hook() session.RemovalHook {
	return func(s session.Session, reason session.RemovalReason) {
		w.Enqueue(&Record{Session: s, Reason: reason, ArchivedAt: w.now()})
	}
}

// Enqueue queues a record and reports whether it was accepted
func (w *Writer) Enqueue(rec *Record) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.dropped.Add(1)
		return false
	}
	select {
	case w.queue <- rec:
		return true
	default:
		w.dropped.Add(1)
		w.logger.Warn("archive queue full, dropping session", "session_id", rec.Session.ID)
		return false
	}
}

func (w *Writer) run() {
	defer close(w.done)

	for rec := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.saveTimeout)
		err := w.store.Save(ctx, rec)
		cancel()

		if err != nil {
			w.failed.Add(1)
			w.logger.Error("failed to archive session", "session_id", rec.Session.ID, "error", err)
			continue
		}
		w.written.Add(1)
		w.logger.Debug("session archived",
			"session_id", rec.Session.ID,
			"reason", string(rec.Reason),
			"data_points", len(rec.Session.History))
	}
}

// Close stops accepting records and waits for the queue to drain or ctx to end
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the writer counters
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Written: w.written.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
	}
}
