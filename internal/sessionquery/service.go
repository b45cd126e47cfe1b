// Package sessionquery serves read-only snapshots of in-flight sessions by
// merging the dedup-check row with the running-totals projection.
package sessionquery

import (
	"context"
	"fmt"
	"time"

	"github.com/mediant-lab/mediant/internal/core/mediation"
	"github.com/mediant-lab/mediant/internal/core/storage"
)

// SessionView is the merged point-in-time snapshot of one open session. A
// session that was never seen, or was already finalized, yields Found=false
// with every other field zeroed.
type SessionView struct {
	Found           bool       `json:"found"`
	SessionID       int64      `json:"session_id,omitempty"`
	SessionStartUTC *time.Time `json:"session_start_utc,omitempty"`

	CallingNumber     string `json:"calling_number,omitempty"`
	Destination       string `json:"destination,omitempty"`
	UnaggregatedUsage int64  `json:"unaggregated_usage,omitempty"`

	// Coverage is a compact rendering of the observed seqno set, e.g. "0-17"
	// for a gap-free prefix or "XX_X" slot-by-slot otherwise.
	Coverage string `json:"coverage,omitempty"`

	// HighestContiguousSeqno is the largest k such that seqnos 0..k have all
	// been observed, or -1 when seqno 0 is still missing.
	HighestContiguousSeqno int `json:"highest_contiguous_seqno"`

	Totals *TotalsView `json:"totals,omitempty"`
}

// TotalsView mirrors the running-totals projection row.
type TotalsView struct {
	MinSeqno          int       `json:"min_seqno"`
	MaxSeqno          int       `json:"max_seqno"`
	MinRecordStartUTC time.Time `json:"min_record_start_utc"`
	MaxRecordStartUTC time.Time `json:"max_record_start_utc"`
	RecordUsage       int64     `json:"record_usage"`
	RecordCount       int64     `json:"record_count"`
}

type Service struct {
	store storage.SessionStore
}

func NewService(store storage.SessionStore) *Service {
	if store == nil {
		panic("sessionquery: store must not be nil")
	}
	return &Service{store: store}
}

// GetSession reads both per-session rows outside any transaction. The two
// reads may observe an ingest in between, so the view is advisory only;
// callers must not feed it back into ingest decisions.
func (s *Service) GetSession(ctx context.Context, key mediation.SessionKey) (*SessionView, error) {
	dedup, err := s.store.GetDedupRecord(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read dedup record for %s: %w", key, err)
	}

	totals, err := s.store.GetRunningTotals(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read running totals for %s: %w", key, err)
	}

	if dedup == nil && totals == nil {
		return &SessionView{Found: false, HighestContiguousSeqno: -1}, nil
	}

	start := key.SessionStartUTC
	view := &SessionView{
		Found:                  true,
		SessionID:              key.SessionID,
		SessionStartUTC:        &start,
		HighestContiguousSeqno: -1,
	}

	if dedup != nil {
		view.CallingNumber = dedup.CallingNumber
		view.UnaggregatedUsage = dedup.UnaggregatedUsage
		view.Coverage = dedup.Coverage.String()
		view.HighestContiguousSeqno = dedup.Coverage.HighestContiguousSeqno()
	}

	if totals != nil {
		if view.CallingNumber == "" {
			view.CallingNumber = totals.CallingNumber
		}
		view.Destination = totals.Destination
		view.Totals = &TotalsView{
			MinSeqno:          totals.MinSeqno,
			MaxSeqno:          totals.MaxSeqno,
			MinRecordStartUTC: totals.MinRecordStartUTC,
			MaxRecordStartUTC: totals.MaxRecordStartUTC,
			RecordUsage:       totals.RecordUsage,
			RecordCount:       totals.RecordCount,
		}
	}

	return view, nil
}
