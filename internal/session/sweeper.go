package session

import (
	"context"
	"time"
)

// RunSweeper removes expired sessions every interval until ctx is done
func (s *Store) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", interval, "max_age", maxAge)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if n := s.SweepExpired(maxAge); n > 0 {
				s.logger.Info("expired sessions swept", "count", n, "remaining", s.Count())
			}
		}
	}
}
