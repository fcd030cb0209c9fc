package core

// sweeper.go expires idle import sessions.
//
// Expiry is garbage collection only. A session with a remap, edit or commit
// in flight is never expired; it is reconsidered on the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often idle sessions are looked for.
const DefaultSweepInterval = 5 * time.Minute

// StartSessionSweeper expires idle sessions every interval until ctx is
// cancelled. It runs one sweep immediately.
func (s *Service) StartSessionSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	slog.Info("session sweeper started", "interval", interval.String(), "ttl", s.store.ttl.String())

	s.runSweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Service) runSweep(ctx context.Context) {
	start := time.Now()
	expired := s.store.Sweep(ctx, start)

	m := getMetrics()
	m.expired.Add(float64(expired))
	m.activeSession.Set(float64(s.store.Len()))

	if expired > 0 {
		slog.Info("expired idle import sessions",
			"expired", expired,
			"remaining", s.store.Len(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
