package storage

import (
	"context"
	"time"

	v1 "github.com/mediant-lab/mediant/internal/api/v1"
	"github.com/mediant-lab/mediant/internal/core/mediation"
)

// SessionStore is the durable keyed storage the engine reads and writes.
// Lookups return (nil, nil) when no row exists for the key.
//
// Contract: all mutation follows a read-modify-write-on-one-key discipline.
// Callers that need the full ingest or finalize sequence to be atomic must
// run it through SessionTxRunner.InSessionTx.
type SessionStore interface {
	GetDedupRecord(ctx context.Context, key mediation.SessionKey) (*mediation.DedupRecord, error)

	// PutDedupRecord upserts the dedup-check row for rec.Key.
	PutDedupRecord(ctx context.Context, rec *mediation.DedupRecord) error

	DeleteDedupRecord(ctx context.Context, key mediation.SessionKey) error

	GetRunningTotals(ctx context.Context, key mediation.SessionKey) (*mediation.RunningTotals, error)

	// AppendDetailRecord folds an accepted record into the running-totals
	// projection for its session, creating the projection row on first append.
	AppendDetailRecord(ctx context.Context, rec *v1.DetailRecord) error

	DeleteRunningTotals(ctx context.Context, key mediation.SessionKey) error

	// AppendAggregatedSession writes one terminal summary row. Append-only.
	AppendAggregatedSession(ctx context.Context, row *mediation.AggregatedSession) error

	// AppendRejectedRecord writes one audit-trail row. Append-only.
	AppendRejectedRecord(ctx context.Context, row *mediation.RejectedRecord) error

	// FindOldestOpenSession returns the open session with the smallest
	// MinRecordStartUTC, or (nil, nil) if no sessions are open.
	FindOldestOpenSession(ctx context.Context) (*mediation.RunningTotals, error)

	// FindOpenSessionsInWindow returns up to limit open sessions whose
	// MinRecordStartUTC falls in [start, end], ordered by
	// (MinRecordStartUTC, SessionID, SessionStartUTC).
	FindOpenSessionsInWindow(ctx context.Context, start, end time.Time, limit int) ([]*mediation.RunningTotals, error)
}

// SessionTxRunner executes a function against the store with per-key
// exclusivity: no two invocations for the same session key ever interleave.
// How that exclusivity is realized (row lock, advisory lock, store-wide
// mutex) is the substrate's choice.
type SessionTxRunner interface {
	SessionStore

	InSessionTx(ctx context.Context, key mediation.SessionKey, fn func(SessionStore) error) error
}

// ParameterStore exposes named numeric tunables. Read-only from the engine's
// perspective; ok reports whether the parameter is set.
type ParameterStore interface {
	GetParameter(ctx context.Context, name string) (value int64, ok bool, err error)
}
