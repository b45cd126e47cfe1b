package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	v1 "github.com/mediant-lab/mediant/internal/api/v1"
	"github.com/mediant-lab/mediant/internal/core/coverage"
	"github.com/mediant-lab/mediant/internal/core/mediation"
)

// querier abstracts *sql.DB and *sql.Tx so the same statements serve both
// direct reads and per-key transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sessionStore implements storage.SessionStore against a querier.
type sessionStore struct {
	q querier
}

func (s sessionStore) GetDedupRecord(ctx context.Context, key mediation.SessionKey) (*mediation.DedupRecord, error) {
	var (
		callingNumber sql.NullString
		blob          []byte
		usage         int64
		lastUpdated   time.Time
	)
	err := s.q.QueryRowContext(ctx, queryGetDedupRecord, key.SessionID, key.SessionStartUTC).
		Scan(&callingNumber, &blob, &usage, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dedup record: %w", err)
	}

	cov, err := coverage.FromBytes(blob)
	if err != nil {
		return nil, fmt.Errorf("get dedup record: decode coverage for %s: %w", key, err)
	}

	return &mediation.DedupRecord{
		Key:               key,
		CallingNumber:     callingNumber.String,
		Coverage:          cov,
		UnaggregatedUsage: usage,
		LastUpdated:       lastUpdated.UTC(),
	}, nil
}

func (s sessionStore) PutDedupRecord(ctx context.Context, rec *mediation.DedupRecord) error {
	_, err := s.q.ExecContext(ctx, queryUpsertDedupRecord,
		rec.Key.SessionID,
		rec.Key.SessionStartUTC,
		rec.CallingNumber,
		rec.Coverage.Bytes(),
		rec.UnaggregatedUsage,
		rec.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("put dedup record %s: %w", rec.Key, err)
	}
	return nil
}

func (s sessionStore) DeleteDedupRecord(ctx context.Context, key mediation.SessionKey) error {
	if _, err := s.q.ExecContext(ctx, queryDeleteDedupRecord, key.SessionID, key.SessionStartUTC); err != nil {
		return fmt.Errorf("delete dedup record %s: %w", key, err)
	}
	return nil
}

func (s sessionStore) GetRunningTotals(ctx context.Context, key mediation.SessionKey) (*mediation.RunningTotals, error) {
	var (
		t             mediation.RunningTotals
		callingNumber sql.NullString
		destination   sql.NullString
	)
	err := s.q.QueryRowContext(ctx, queryGetRunningTotals, key.SessionID, key.SessionStartUTC).Scan(
		&t.MinSeqno,
		&t.MaxSeqno,
		&t.MinRecordStartUTC,
		&t.MaxRecordStartUTC,
		&callingNumber,
		&destination,
		&t.RecordUsage,
		&t.RecordCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get running totals: %w", err)
	}

	t.Key = key
	t.CallingNumber = callingNumber.String
	t.Destination = destination.String
	t.MinRecordStartUTC = t.MinRecordStartUTC.UTC()
	t.MaxRecordStartUTC = t.MaxRecordStartUTC.UTC()
	return &t, nil
}

func (s sessionStore) AppendDetailRecord(ctx context.Context, rec *v1.DetailRecord) error {
	_, err := s.q.ExecContext(ctx, queryAppendDetailRecord,
		rec.SessionID,
		rec.SessionStartUTC,
		rec.Seqno,
		rec.RecordStartUTC,
		rec.CallingNumber,
		rec.Destination,
		rec.RecordUsage,
	)
	if err != nil {
		return fmt.Errorf("append detail record: %w", err)
	}
	return nil
}

func (s sessionStore) DeleteRunningTotals(ctx context.Context, key mediation.SessionKey) error {
	if _, err := s.q.ExecContext(ctx, queryDeleteRunningTotals, key.SessionID, key.SessionStartUTC); err != nil {
		return fmt.Errorf("delete running totals %s: %w", key, err)
	}
	return nil
}

func (s sessionStore) AppendAggregatedSession(ctx context.Context, row *mediation.AggregatedSession) error {
	_, err := s.q.ExecContext(ctx, queryInsertAggregatedSession,
		row.Reason,
		row.Key.SessionID,
		row.Key.SessionStartUTC,
		row.MinSeqno,
		row.MaxSeqno,
		row.CallingNumber,
		row.Destination,
		row.StartAggTimeUTC,
		row.EndAggTimeUTC,
		row.RecordUsage,
	)
	if err != nil {
		return fmt.Errorf("append aggregated session %s: %w", row.Key, err)
	}
	return nil
}

func (s sessionStore) AppendRejectedRecord(ctx context.Context, row *mediation.RejectedRecord) error {
	var endRecordStart sql.NullTime
	if !row.EndRecordStartUTC.IsZero() {
		endRecordStart = sql.NullTime{Time: row.EndRecordStartUTC, Valid: true}
	}

	_, err := s.q.ExecContext(ctx, queryInsertRejectedRecord,
		row.Reason,
		row.Key.SessionID,
		row.Key.SessionStartUTC,
		row.Seqno,
		row.EndSeqno,
		row.CallingNumber,
		row.Destination,
		row.RecordType,
		row.RecordStartUTC,
		endRecordStart,
		row.RecordUsage,
	)
	if err != nil {
		return fmt.Errorf("append rejected record %s: %w", row.Key, err)
	}
	return nil
}

func (s sessionStore) FindOldestOpenSession(ctx context.Context) (*mediation.RunningTotals, error) {
	row := s.q.QueryRowContext(ctx, queryFindOldestOpenSession)
	t, err := scanTotalsRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find oldest open session: %w", err)
	}
	return t, nil
}

func (s sessionStore) FindOpenSessionsInWindow(ctx context.Context, start, end time.Time, limit int) ([]*mediation.RunningTotals, error) {
	rows, err := s.q.QueryContext(ctx, queryFindOpenSessionsInWindow, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("find open sessions in window: %w", err)
	}
	defer rows.Close()

	var out []*mediation.RunningTotals
	for rows.Next() {
		t, err := scanTotalsRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("find open sessions in window: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find open sessions in window: iterate rows: %w", err)
	}
	return out, nil
}

// scanTotalsRow reads one full session_running_totals row, shared between the
// single-row and windowed lookups.
func scanTotalsRow(scan func(dest ...interface{}) error) (*mediation.RunningTotals, error) {
	var (
		t             mediation.RunningTotals
		callingNumber sql.NullString
		destination   sql.NullString
	)
	err := scan(
		&t.Key.SessionID,
		&t.Key.SessionStartUTC,
		&t.MinSeqno,
		&t.MaxSeqno,
		&t.MinRecordStartUTC,
		&t.MaxRecordStartUTC,
		&callingNumber,
		&destination,
		&t.RecordUsage,
		&t.RecordCount,
	)
	if err != nil {
		return nil, err
	}

	t.Key.SessionStartUTC = t.Key.SessionStartUTC.UTC()
	t.MinRecordStartUTC = t.MinRecordStartUTC.UTC()
	t.MaxRecordStartUTC = t.MaxRecordStartUTC.UTC()
	t.CallingNumber = callingNumber.String
	t.Destination = destination.String
	return &t, nil
}
