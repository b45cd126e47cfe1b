package mediation

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs sweep passes on a periodic interval. It is stateless: each
// tick independently scans for stale sessions, so large backlogs drain one
// bounded pass per tick.
type Scheduler struct {
	interval time.Duration
	sweeper  *Sweeper
}

// NewScheduler creates a periodic driver for the staleness sweeper.
func NewScheduler(interval time.Duration, sweeper *Sweeper) *Scheduler {
	return &Scheduler{
		interval: interval,
		sweeper:  sweeper,
	}
}

// Start begins periodic sweeping and runs until the context is cancelled. A
// final pass runs on shutdown so sessions that went stale during the last
// interval still get closed.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting staleness sweep scheduler", "interval", s.interval)

	s.runPass(ctx)

	for {
		select {
		case <-ticker.C:
			s.runPass(ctx)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			s.runPass(shutdownCtx)
			slog.Info("[Scheduler] Final sweep complete")
			return nil
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context) {
	finalized, err := s.sweeper.RunPass(ctx)
	if err != nil {
		slog.Error("[Scheduler] Sweep pass failed", "error", err, "finalized_before_failure", finalized)
	}
}
