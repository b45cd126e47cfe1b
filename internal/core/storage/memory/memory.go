// Package memory provides an in-memory SessionStore for tests and local
// development. Per-key exclusivity degrades to store-wide exclusivity: the
// whole store is held for the duration of InSessionTx, which trivially
// satisfies the serialization contract.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	v1 "github.com/mediant-lab/mediant/internal/api/v1"
	"github.com/mediant-lab/mediant/internal/core/mediation"
	"github.com/mediant-lab/mediant/internal/core/storage"
)

// Store implements storage.SessionTxRunner and storage.ParameterStore.
type Store struct {
	mu sync.Mutex

	dedup      map[mediation.SessionKey]*mediation.DedupRecord
	totals     map[mediation.SessionKey]*mediation.RunningTotals
	aggregated []*mediation.AggregatedSession
	rejected   []*mediation.RejectedRecord
	params     map[string]int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		dedup:  make(map[mediation.SessionKey]*mediation.DedupRecord),
		totals: make(map[mediation.SessionKey]*mediation.RunningTotals),
		params: make(map[string]int64),
	}
}

// view is the unsynchronized implementation handed to InSessionTx callbacks.
// The store's mutex is already held while a view is live.
type view struct {
	s *Store
}

var _ storage.SessionTxRunner = (*Store)(nil)
var _ storage.ParameterStore = (*Store)(nil)

func (st *Store) InSessionTx(ctx context.Context, key mediation.SessionKey, fn func(storage.SessionStore) error) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return fn(view{s: st})
}

func (st *Store) GetDedupRecord(ctx context.Context, key mediation.SessionKey) (*mediation.DedupRecord, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return view{s: st}.GetDedupRecord(ctx, key)
}

func (st *Store) PutDedupRecord(ctx context.Context, rec *mediation.DedupRecord) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return view{s: st}.PutDedupRecord(ctx, rec)
}

func (st *Store) DeleteDedupRecord(ctx context.Context, key mediation.SessionKey) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return view{s: st}.DeleteDedupRecord(ctx, key)
}

func (st *Store) GetRunningTotals(ctx context.Context, key mediation.SessionKey) (*mediation.RunningTotals, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return view{s: st}.GetRunningTotals(ctx, key)
}

func (st *Store) AppendDetailRecord(ctx context.Context, rec *v1.DetailRecord) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return view{s: st}.AppendDetailRecord(ctx, rec)
}

func (st *Store) DeleteRunningTotals(ctx context.Context, key mediation.SessionKey) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return view{s: st}.DeleteRunningTotals(ctx, key)
}

func (st *Store) AppendAggregatedSession(ctx context.Context, row *mediation.AggregatedSession) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return view{s: st}.AppendAggregatedSession(ctx, row)
}

func (st *Store) AppendRejectedRecord(ctx context.Context, row *mediation.RejectedRecord) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return view{s: st}.AppendRejectedRecord(ctx, row)
}

func (st *Store) FindOldestOpenSession(ctx context.Context) (*mediation.RunningTotals, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return view{s: st}.FindOldestOpenSession(ctx)
}

func (st *Store) FindOpenSessionsInWindow(ctx context.Context, start, end time.Time, limit int) ([]*mediation.RunningTotals, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return view{s: st}.FindOpenSessionsInWindow(ctx, start, end, limit)
}

func (st *Store) GetParameter(ctx context.Context, name string) (int64, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	value, ok := st.params[name]
	return value, ok, nil
}

// SetParameter sets a named tunable. Test helper.
func (st *Store) SetParameter(name string, value int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.params[name] = value
}

// AggregatedSessions returns a snapshot of all terminal summary rows.
func (st *Store) AggregatedSessions() []*mediation.AggregatedSession {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*mediation.AggregatedSession, len(st.aggregated))
	for i, row := range st.aggregated {
		c := *row
		out[i] = &c
	}
	return out
}

// RejectedRecords returns a snapshot of all audit-trail rows.
func (st *Store) RejectedRecords() []*mediation.RejectedRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*mediation.RejectedRecord, len(st.rejected))
	for i, row := range st.rejected {
		c := *row
		out[i] = &c
	}
	return out
}

// OpenSessionCount returns how many sessions are currently open.
func (st *Store) OpenSessionCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.totals)
}

func (v view) GetDedupRecord(_ context.Context, key mediation.SessionKey) (*mediation.DedupRecord, error) {
	rec, ok := v.s.dedup[key]
	if !ok {
		return nil, nil
	}
	return cloneDedup(rec), nil
}

func (v view) PutDedupRecord(_ context.Context, rec *mediation.DedupRecord) error {
	v.s.dedup[rec.Key] = cloneDedup(rec)
	return nil
}

func (v view) DeleteDedupRecord(_ context.Context, key mediation.SessionKey) error {
	delete(v.s.dedup, key)
	return nil
}

func (v view) GetRunningTotals(_ context.Context, key mediation.SessionKey) (*mediation.RunningTotals, error) {
	t, ok := v.s.totals[key]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (v view) AppendDetailRecord(_ context.Context, rec *v1.DetailRecord) error {
	key := mediation.KeyOf(rec)
	recordStart := rec.RecordStartUTC.UTC()

	t, ok := v.s.totals[key]
	if !ok {
		v.s.totals[key] = &mediation.RunningTotals{
			Key:               key,
			MinSeqno:          rec.Seqno,
			MaxSeqno:          rec.Seqno,
			MinRecordStartUTC: recordStart,
			MaxRecordStartUTC: recordStart,
			CallingNumber:     rec.CallingNumber,
			Destination:       rec.Destination,
			RecordUsage:       rec.RecordUsage,
			RecordCount:       1,
		}
		return nil
	}

	if rec.Seqno < t.MinSeqno {
		t.MinSeqno = rec.Seqno
	}
	if rec.Seqno > t.MaxSeqno {
		t.MaxSeqno = rec.Seqno
	}
	if recordStart.Before(t.MinRecordStartUTC) {
		t.MinRecordStartUTC = recordStart
	}
	if recordStart.After(t.MaxRecordStartUTC) {
		t.MaxRecordStartUTC = recordStart
	}
	if t.CallingNumber == "" {
		t.CallingNumber = rec.CallingNumber
	}
	if t.Destination == "" {
		t.Destination = rec.Destination
	}
	t.RecordUsage += rec.RecordUsage
	t.RecordCount++
	return nil
}

func (v view) DeleteRunningTotals(_ context.Context, key mediation.SessionKey) error {
	delete(v.s.totals, key)
	return nil
}

func (v view) AppendAggregatedSession(_ context.Context, row *mediation.AggregatedSession) error {
	c := *row
	v.s.aggregated = append(v.s.aggregated, &c)
	return nil
}

func (v view) AppendRejectedRecord(_ context.Context, row *mediation.RejectedRecord) error {
	c := *row
	v.s.rejected = append(v.s.rejected, &c)
	return nil
}

func (v view) FindOldestOpenSession(_ context.Context) (*mediation.RunningTotals, error) {
	var oldest *mediation.RunningTotals
	for _, t := range v.s.totals {
		if oldest == nil || lessByWindowOrder(t, oldest) {
			oldest = t
		}
	}
	if oldest == nil {
		return nil, nil
	}
	c := *oldest
	return &c, nil
}

func (v view) FindOpenSessionsInWindow(_ context.Context, start, end time.Time, limit int) ([]*mediation.RunningTotals, error) {
	var rows []*mediation.RunningTotals
	for _, t := range v.s.totals {
		if t.MinRecordStartUTC.Before(start) || t.MinRecordStartUTC.After(end) {
			continue
		}
		c := *t
		rows = append(rows, &c)
	}

	sort.Slice(rows, func(i, j int) bool { return lessByWindowOrder(rows[i], rows[j]) })

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func lessByWindowOrder(a, b *mediation.RunningTotals) bool {
	if !a.MinRecordStartUTC.Equal(b.MinRecordStartUTC) {
		return a.MinRecordStartUTC.Before(b.MinRecordStartUTC)
	}
	if a.Key.SessionID != b.Key.SessionID {
		return a.Key.SessionID < b.Key.SessionID
	}
	return a.Key.SessionStartUTC.Before(b.Key.SessionStartUTC)
}

func cloneDedup(rec *mediation.DedupRecord) *mediation.DedupRecord {
	c := *rec
	if rec.Coverage != nil {
		c.Coverage = rec.Coverage.Clone()
	}
	return &c
}
