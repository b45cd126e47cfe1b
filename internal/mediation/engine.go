// Package mediation implements the mediation aggregation engine: the
// per-record ingest decision procedure and the staleness sweep that together
// guarantee every session terminates exactly once.
package mediation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/mediant-lab/mediant/internal/api/v1"
	"github.com/mediant-lab/mediant/internal/core/coverage"
	core "github.com/mediant-lab/mediant/internal/core/mediation"
	"github.com/mediant-lab/mediant/internal/core/storage"
)

// Outcome statuses returned to the transport layer.
const (
	StatusAccepted   = "accepted"   // record folded in, session stays open
	StatusAggregated = "aggregated" // record folded in and the session finalized
	StatusRejected   = "rejected"   // record refused, audit row written
)

// Outcome is the terminal result of one ingest decision.
type Outcome struct {
	Status string `json:"status"`
	// Reason is the aggregation reason for StatusAggregated or the rejection
	// reason for StatusRejected; empty for StatusAccepted.
	Reason string `json:"reason,omitempty"`
}

// Engine consumes one detail record at a time, mutating the dedup tracker and
// running totals through the session store and deciding emit/continue/reject.
// Per-session atomicity is delegated to the store's InSessionTx.
type Engine struct {
	store  storage.SessionTxRunner
	params storage.ParameterStore
	now    func() time.Time
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithEngineClock overrides the engine's time source. Tests only.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates the ingest decision engine.
func NewEngine(store storage.SessionTxRunner, params storage.ParameterStore, opts ...EngineOption) *Engine {
	if store == nil {
		panic("mediation: store must not be nil")
	}
	if params == nil {
		panic("mediation: parameter store must not be nil")
	}
	e := &Engine{
		store:  store,
		params: params,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process runs the ingest decision procedure for one record. Every valid
// input either advances session state or is rejected into the audit trail;
// an error is only returned for contract violations and storage failures.
func (e *Engine) Process(ctx context.Context, rec *v1.DetailRecord) (Outcome, error) {
	if err := rec.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("invalid detail record: %w", err)
	}

	now := e.now().UTC()
	maxAgeMs := paramOrDefault(ctx, e.params, core.ParamMaxRecordAgeMs, core.DefaultMaxRecordAgeMs)
	cutoff := now.Add(-time.Duration(maxAgeMs) * time.Millisecond)

	// Lateness guard: anything that shows up more than the lateness bound
	// late is refused before any session state exists for it.
	if rec.SessionStartUTC.Before(cutoff) {
		return e.reject(ctx, rec, core.RejectLateSession)
	}
	if rec.RecordStartUTC.Before(cutoff) {
		return e.reject(ctx, rec, core.RejectLateRecord)
	}

	usageThreshold := paramOrDefault(ctx, e.params, core.ParamAggUsage, core.DefaultAggUsageThreshold)
	seqnoThreshold := paramOrDefault(ctx, e.params, core.ParamAggSeqnoCount, core.DefaultAggSeqnoThreshold)

	key := core.KeyOf(rec)
	var out Outcome

	err := e.store.InSessionTx(ctx, key, func(s storage.SessionStore) error {
		dedup, err := s.GetDedupRecord(ctx, key)
		if err != nil {
			return fmt.Errorf("get dedup record: %w", err)
		}

		if dedup == nil {
			// First record for this session.
			cov := coverage.New()
			cov.Set(rec.Seqno)
			dedup = &core.DedupRecord{
				Key:               key,
				CallingNumber:     rec.CallingNumber,
				Coverage:          cov,
				UnaggregatedUsage: rec.RecordUsage,
				LastUpdated:       now,
			}
		} else {
			if dedup.Coverage.IsSet(rec.Seqno) {
				if err := s.AppendRejectedRecord(ctx, rejectedFrom(rec, core.RejectDup)); err != nil {
					return fmt.Errorf("report duplicate: %w", err)
				}
				out = Outcome{Status: StatusRejected, Reason: core.RejectDup}
				return nil
			}
			dedup.Coverage.Set(rec.Seqno)
			dedup.UnaggregatedUsage += rec.RecordUsage
			dedup.LastUpdated = now
		}

		if err := s.PutDedupRecord(ctx, dedup); err != nil {
			return fmt.Errorf("put dedup record: %w", err)
		}
		if err := s.AppendDetailRecord(ctx, rec); err != nil {
			return fmt.Errorf("append detail record: %w", err)
		}

		totals, err := s.GetRunningTotals(ctx, key)
		if err != nil {
			return fmt.Errorf("get running totals: %w", err)
		}
		if totals == nil {
			return fmt.Errorf("running totals missing after append for session %s", key)
		}

		// Only a gap-free set below the record just accepted may aggregate.
		if !dedup.Coverage.ContiguousFromZero(rec.Seqno + 1) {
			out = Outcome{Status: StatusAccepted}
			return nil
		}

		var reason string
		switch {
		case rec.EventType == v1.EventTypeEnd:
			reason = core.ReasonEnd
		case totals.RecordCount > seqnoThreshold:
			reason = core.ReasonQty
		case totals.RecordUsage > usageThreshold:
			reason = core.ReasonUsage
		}
		if reason == "" {
			out = Outcome{Status: StatusAccepted}
			return nil
		}

		if err := finalizeSession(ctx, s, totals, reason); err != nil {
			return err
		}
		out = Outcome{Status: StatusAggregated, Reason: reason}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	return out, nil
}

// reject writes the audit row for a lateness rejection. No session state is
// created or touched.
func (e *Engine) reject(ctx context.Context, rec *v1.DetailRecord, reason string) (Outcome, error) {
	if err := e.store.AppendRejectedRecord(ctx, rejectedFrom(rec, reason)); err != nil {
		return Outcome{}, fmt.Errorf("report %s record: %w", reason, err)
	}
	return Outcome{Status: StatusRejected, Reason: reason}, nil
}

// finalizeSession emits one AggregatedSession row and deletes the session's
// dedup tracker and running totals. Callers hold the per-key transaction.
func finalizeSession(ctx context.Context, s storage.SessionStore, totals *core.RunningTotals, reason string) error {
	row := &core.AggregatedSession{
		Reason:          reason,
		Key:             totals.Key,
		MinSeqno:        totals.MinSeqno,
		MaxSeqno:        totals.MaxSeqno,
		CallingNumber:   totals.CallingNumber,
		Destination:     totals.Destination,
		StartAggTimeUTC: totals.MinRecordStartUTC,
		EndAggTimeUTC:   totals.MaxRecordStartUTC,
		RecordUsage:     totals.RecordUsage,
	}
	if err := s.AppendAggregatedSession(ctx, row); err != nil {
		return fmt.Errorf("append aggregated session: %w", err)
	}
	if err := s.DeleteDedupRecord(ctx, totals.Key); err != nil {
		return fmt.Errorf("delete dedup record: %w", err)
	}
	if err := s.DeleteRunningTotals(ctx, totals.Key); err != nil {
		return fmt.Errorf("delete running totals: %w", err)
	}
	return nil
}

func rejectedFrom(rec *v1.DetailRecord, reason string) *core.RejectedRecord {
	return &core.RejectedRecord{
		Reason:         reason,
		Key:            core.KeyOf(rec),
		Seqno:          rec.Seqno,
		EndSeqno:       rec.Seqno,
		CallingNumber:  rec.CallingNumber,
		Destination:    rec.Destination,
		RecordType:     rec.EventType,
		RecordStartUTC: rec.RecordStartUTC.UTC(),
		RecordUsage:    rec.RecordUsage,
	}
}

// paramOrDefault reads a tunable, falling back to its default when unset or
// when the parameter store fails. Thresholds are soft: a read failure must
// not fail the unit of work.
func paramOrDefault(ctx context.Context, params storage.ParameterStore, name string, def int64) int64 {
	value, ok, err := params.GetParameter(ctx, name)
	if err != nil {
		slog.Warn("[Engine] Parameter read failed, using default", "parameter", name, "default", def, "error", err)
		return def
	}
	if !ok {
		return def
	}
	return value
}
