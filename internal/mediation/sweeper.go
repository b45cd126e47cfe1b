package mediation

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	core "github.com/mediant-lab/mediant/internal/core/mediation"
	"github.com/mediant-lab/mediant/internal/core/storage"
	"golang.org/x/sync/errgroup"
)

// sweepConcurrency bounds how many stale sessions one pass finalizes in
// parallel. Each finalize holds only its own session's lock, so parallel
// finalizes never contend on the same key.
const sweepConcurrency = 4

// Sweeper forcibly terminates sessions abandoned by their producers. Each
// pass processes a bounded time slice of the oldest open sessions so sweep
// latency stays predictable no matter how large the backlog is; genuinely
// large backlogs drain incrementally across scheduled passes.
type Sweeper struct {
	store  storage.SessionTxRunner
	params storage.ParameterStore
	now    func() time.Time
}

// SweeperOption customizes a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperClock overrides the sweeper's time source. Tests only.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper creates the staleness sweeper.
func NewSweeper(store storage.SessionTxRunner, params storage.ParameterStore, opts ...SweeperOption) *Sweeper {
	if store == nil {
		panic("mediation: store must not be nil")
	}
	if params == nil {
		panic("mediation: parameter store must not be nil")
	}
	s := &Sweeper{
		store:  store,
		params: params,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunPass executes one bounded sweep pass and returns how many sessions were
// finalized. Sessions younger than the staleness threshold are never touched.
func (s *Sweeper) RunPass(ctx context.Context) (int, error) {
	stalenessMs := paramOrDefault(ctx, s.params, core.ParamStalenessThresholdMs, core.DefaultStalenessThresholdMs)
	windowMs := paramOrDefault(ctx, s.params, core.ParamAggWindowSizeMs, core.DefaultAggWindowSizeMs)
	rowLimit := paramOrDefault(ctx, s.params, core.ParamStalenessRowLimit, core.DefaultStalenessRowLimit)

	oldest, err := s.store.FindOldestOpenSession(ctx)
	if err != nil {
		return 0, fmt.Errorf("find oldest open session: %w", err)
	}
	if oldest == nil {
		return 0, nil
	}

	cutoff := s.now().UTC().Add(-time.Duration(stalenessMs) * time.Millisecond)
	if !oldest.MinRecordStartUTC.Before(cutoff) {
		// Nothing is stale enough yet.
		return 0, nil
	}

	// Process one bounded time slice, never reaching past the staleness
	// cutoff.
	windowEnd := oldest.MinRecordStartUTC.Add(time.Duration(windowMs) * time.Millisecond)
	if windowEnd.After(cutoff) {
		windowEnd = cutoff
	}

	sessions, err := s.store.FindOpenSessionsInWindow(ctx, oldest.MinRecordStartUTC, windowEnd, int(rowLimit))
	if err != nil {
		return 0, fmt.Errorf("find open sessions in window: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)

	var finalized atomic.Int64
	for _, totals := range sessions {
		key := totals.Key
		g.Go(func() error {
			if err := s.finalizeStale(gctx, key); err != nil {
				return err
			}
			finalized.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(finalized.Load()), err
	}

	if n := int(finalized.Load()); n > 0 {
		slog.Info("[Sweeper] Pass complete",
			"finalized", n,
			"window_start", oldest.MinRecordStartUTC,
			"window_end", windowEnd,
		)
	}
	return int(finalized.Load()), nil
}

// finalizeStale force-closes a single stale session under its per-key
// transaction. If the coverage has no gaps across the observed seqno range,
// an end record most likely arrived out of order before the set completed,
// so aggregate normally with reason AGE. Otherwise cancel with reason LATE,
// recording the seqno and time spans that never completed.
func (s *Sweeper) finalizeStale(ctx context.Context, key core.SessionKey) error {
	return s.store.InSessionTx(ctx, key, func(tx storage.SessionStore) error {
		totals, err := tx.GetRunningTotals(ctx, key)
		if err != nil {
			return fmt.Errorf("get running totals: %w", err)
		}
		if totals == nil {
			// Finalized by a racing ingest between the window scan and now.
			return nil
		}

		dedup, err := tx.GetDedupRecord(ctx, key)
		if err != nil {
			return fmt.Errorf("get dedup record: %w", err)
		}

		complete := dedup != nil && dedup.Coverage.CoversRange(totals.MinSeqno, totals.MaxSeqno)
		if complete {
			return finalizeSession(ctx, tx, totals, core.ReasonAge)
		}

		cancel := &core.RejectedRecord{
			Reason:            core.RejectLate,
			Key:               key,
			Seqno:             totals.MinSeqno,
			EndSeqno:          totals.MaxSeqno,
			CallingNumber:     totals.CallingNumber,
			Destination:       totals.Destination,
			RecordType:        core.RecordTypeRange,
			RecordStartUTC:    totals.MinRecordStartUTC,
			EndRecordStartUTC: totals.MaxRecordStartUTC,
			RecordUsage:       totals.RecordUsage,
		}
		if err := tx.AppendRejectedRecord(ctx, cancel); err != nil {
			return fmt.Errorf("report cancelled session: %w", err)
		}
		if err := tx.DeleteDedupRecord(ctx, key); err != nil {
			return fmt.Errorf("delete dedup record: %w", err)
		}
		if err := tx.DeleteRunningTotals(ctx, key); err != nil {
			return fmt.Errorf("delete running totals: %w", err)
		}
		return nil
	})
}
