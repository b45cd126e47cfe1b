package mediation

import (
	"context"
	"testing"
	"time"

	v1 "github.com/mediant-lab/mediant/internal/api/v1"
	core "github.com/mediant-lab/mediant/internal/core/mediation"
	"github.com/mediant-lab/mediant/internal/core/storage/memory"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func testEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewEngine(store, store, WithEngineClock(fixedClock)), store
}

func record(sessionID int64, seqno int, eventType string, usage int64) *v1.DetailRecord {
	return &v1.DetailRecord{
		SessionID:       sessionID,
		SessionStartUTC: testNow.Add(-time.Minute),
		Seqno:           seqno,
		CallingNumber:   "5551234567",
		Destination:     "api.example.net",
		EventType:       eventType,
		RecordStartUTC:  testNow.Add(time.Duration(seqno) * time.Second),
		RecordUsage:     usage,
	}
}

func TestProcessInOrderSessionAggregatesOnEnd(t *testing.T) {
	engine, store := testEngine(t)
	ctx := context.Background()

	out, err := engine.Process(ctx, record(1, 0, v1.EventTypeStart, 100))
	require.NoError(t, err)
	require.Equal(t, Outcome{Status: StatusAccepted}, out)

	out, err = engine.Process(ctx, record(1, 1, v1.EventTypeIntermediate, 200))
	require.NoError(t, err)
	require.Equal(t, Outcome{Status: StatusAccepted}, out)

	out, err = engine.Process(ctx, record(1, 2, v1.EventTypeEnd, 300))
	require.NoError(t, err)
	require.Equal(t, Outcome{Status: StatusAggregated, Reason: core.ReasonEnd}, out)

	aggregated := store.AggregatedSessions()
	require.Len(t, aggregated, 1)
	require.Equal(t, core.ReasonEnd, aggregated[0].Reason)
	require.Equal(t, int64(1), aggregated[0].Key.SessionID)
	require.Equal(t, 0, aggregated[0].MinSeqno)
	require.Equal(t, 2, aggregated[0].MaxSeqno)
	require.Equal(t, int64(600), aggregated[0].RecordUsage)
	require.Equal(t, "5551234567", aggregated[0].CallingNumber)

	// Session state is gone: dedup tracker and running totals both deleted.
	require.Equal(t, 0, store.OpenSessionCount())
	dedup, err := store.GetDedupRecord(ctx, core.KeyOf(record(1, 0, v1.EventTypeStart, 0)))
	require.NoError(t, err)
	require.Nil(t, dedup)
}

func TestProcessDuplicateSeqnoIsRejectedWithoutStateChange(t *testing.T) {
	engine, store := testEngine(t)
	ctx := context.Background()

	_, err := engine.Process(ctx, record(2, 0, v1.EventTypeStart, 100))
	require.NoError(t, err)
	_, err = engine.Process(ctx, record(2, 1, v1.EventTypeIntermediate, 200))
	require.NoError(t, err)

	key := core.KeyOf(record(2, 0, v1.EventTypeStart, 0))
	before, err := store.GetRunningTotals(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, before)

	// Same seqno again, even with different usage.
	out, err := engine.Process(ctx, record(2, 1, v1.EventTypeIntermediate, 999))
	require.NoError(t, err)
	require.Equal(t, Outcome{Status: StatusRejected, Reason: core.RejectDup}, out)

	after, err := store.GetRunningTotals(ctx, key)
	require.NoError(t, err)
	require.Equal(t, before, after)

	rejected := store.RejectedRecords()
	require.Len(t, rejected, 1)
	require.Equal(t, core.RejectDup, rejected[0].Reason)
	require.Equal(t, 1, rejected[0].Seqno)
	require.Equal(t, int64(999), rejected[0].RecordUsage)
}

func TestProcessDuplicateIsIdempotentAcrossRetries(t *testing.T) {
	engine, store := testEngine(t)
	ctx := context.Background()

	_, err := engine.Process(ctx, record(3, 0, v1.EventTypeStart, 50))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		out, err := engine.Process(ctx, record(3, 0, v1.EventTypeStart, 50))
		require.NoError(t, err)
		require.Equal(t, StatusRejected, out.Status)
	}

	key := core.KeyOf(record(3, 0, v1.EventTypeStart, 0))
	totals, err := store.GetRunningTotals(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(1), totals.RecordCount)
	require.Equal(t, int64(50), totals.RecordUsage)
	require.Len(t, store.RejectedRecords(), 5)
}

func TestProcessOutOfOrderEndHoldsSessionOpen(t *testing.T) {
	engine, store := testEngine(t)
	ctx := context.Background()

	_, err := engine.Process(ctx, record(4, 0, v1.EventTypeStart, 10))
	require.NoError(t, err)

	// End record arrives before seqno 1: the set has a gap, so nothing emits.
	out, err := engine.Process(ctx, record(4, 2, v1.EventTypeEnd, 30))
	require.NoError(t, err)
	require.Equal(t, Outcome{Status: StatusAccepted}, out)
	require.Empty(t, store.AggregatedSessions())

	// The gap filler is an intermediate record, so the end-record trigger
	// never fires; the session stays open for the staleness sweep.
	out, err = engine.Process(ctx, record(4, 1, v1.EventTypeIntermediate, 20))
	require.NoError(t, err)
	require.Equal(t, Outcome{Status: StatusAccepted}, out)
	require.Empty(t, store.AggregatedSessions())
	require.Equal(t, 1, store.OpenSessionCount())
}

func TestProcessQtyThreshold(t *testing.T) {
	engine, store := testEngine(t)
	store.SetParameter(core.ParamAggSeqnoCount, 3)
	ctx := context.Background()

	for seqno := 0; seqno < 3; seqno++ {
		eventType := v1.EventTypeIntermediate
		if seqno == 0 {
			eventType = v1.EventTypeStart
		}
		out, err := engine.Process(ctx, record(5, seqno, eventType, 10))
		require.NoError(t, err)
		require.Equal(t, StatusAccepted, out.Status)
	}

	// Fourth record pushes the count past the threshold of 3.
	out, err := engine.Process(ctx, record(5, 3, v1.EventTypeIntermediate, 10))
	require.NoError(t, err)
	require.Equal(t, Outcome{Status: StatusAggregated, Reason: core.ReasonQty}, out)

	aggregated := store.AggregatedSessions()
	require.Len(t, aggregated, 1)
	require.Equal(t, core.ReasonQty, aggregated[0].Reason)
	require.Equal(t, 3, aggregated[0].MaxSeqno)
}

func TestProcessUsageThreshold(t *testing.T) {
	engine, store := testEngine(t)
	store.SetParameter(core.ParamAggUsage, 100)
	ctx := context.Background()

	out, err := engine.Process(ctx, record(6, 0, v1.EventTypeStart, 60))
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, out.Status)

	out, err = engine.Process(ctx, record(6, 1, v1.EventTypeIntermediate, 60))
	require.NoError(t, err)
	require.Equal(t, Outcome{Status: StatusAggregated, Reason: core.ReasonUsage}, out)

	aggregated := store.AggregatedSessions()
	require.Len(t, aggregated, 1)
	require.Equal(t, int64(120), aggregated[0].RecordUsage)
}

func TestProcessEndOutranksQtyAndUsage(t *testing.T) {
	engine, store := testEngine(t)
	store.SetParameter(core.ParamAggSeqnoCount, 1)
	store.SetParameter(core.ParamAggUsage, 1)
	ctx := context.Background()

	_, err := engine.Process(ctx, record(7, 0, v1.EventTypeStart, 500))
	require.NoError(t, err)

	out, err := engine.Process(ctx, record(7, 1, v1.EventTypeEnd, 500))
	require.NoError(t, err)
	require.Equal(t, Outcome{Status: StatusAggregated, Reason: core.ReasonEnd}, out)
	require.Equal(t, core.ReasonEnd, store.AggregatedSessions()[0].Reason)
}

func TestProcessThresholdTriggersOnlyWhenContiguous(t *testing.T) {
	engine, store := testEngine(t)
	store.SetParameter(core.ParamAggUsage, 100)
	ctx := context.Background()

	_, err := engine.Process(ctx, record(8, 0, v1.EventTypeStart, 90))
	require.NoError(t, err)

	// Usage is far past the threshold, but seqno 1 is missing.
	out, err := engine.Process(ctx, record(8, 2, v1.EventTypeIntermediate, 500))
	require.NoError(t, err)
	require.Equal(t, Outcome{Status: StatusAccepted}, out)
	require.Empty(t, store.AggregatedSessions())
}

func TestProcessLateSessionRejected(t *testing.T) {
	engine, store := testEngine(t)
	ctx := context.Background()

	rec := record(9, 0, v1.EventTypeStart, 10)
	rec.SessionStartUTC = testNow.Add(-8 * 24 * time.Hour)
	rec.RecordStartUTC = testNow.Add(-8 * 24 * time.Hour)

	out, err := engine.Process(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, Outcome{Status: StatusRejected, Reason: core.RejectLateSession}, out)

	// No session state was created.
	require.Equal(t, 0, store.OpenSessionCount())
	rejected := store.RejectedRecords()
	require.Len(t, rejected, 1)
	require.Equal(t, core.RejectLateSession, rejected[0].Reason)
}

func TestProcessLateRecordRejected(t *testing.T) {
	engine, store := testEngine(t)
	ctx := context.Background()

	rec := record(10, 0, v1.EventTypeStart, 10)
	rec.RecordStartUTC = testNow.Add(-8 * 24 * time.Hour)

	out, err := engine.Process(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, Outcome{Status: StatusRejected, Reason: core.RejectLateRecord}, out)
	require.Equal(t, 0, store.OpenSessionCount())
}

func TestProcessLatenessBoundIsTunable(t *testing.T) {
	engine, store := testEngine(t)
	store.SetParameter(core.ParamMaxRecordAgeMs, int64(time.Hour/time.Millisecond))
	ctx := context.Background()

	rec := record(11, 0, v1.EventTypeStart, 10)
	rec.SessionStartUTC = testNow.Add(-2 * time.Hour)
	rec.RecordStartUTC = testNow.Add(-2 * time.Hour)

	out, err := engine.Process(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, out.Status)
	require.Equal(t, core.RejectLateSession, out.Reason)
}

func TestProcessInvalidRecordIsAnError(t *testing.T) {
	engine, store := testEngine(t)
	ctx := context.Background()

	rec := record(12, 0, v1.EventTypeStart, 10)
	rec.Seqno = 300

	_, err := engine.Process(ctx, rec)
	require.Error(t, err)
	require.Equal(t, 0, store.OpenSessionCount())
	require.Empty(t, store.RejectedRecords())
}

func TestProcessSameSessionIDDifferentStartsAreIndependent(t *testing.T) {
	engine, store := testEngine(t)
	ctx := context.Background()

	first := record(13, 0, v1.EventTypeStart, 10)
	second := record(13, 0, v1.EventTypeStart, 10)
	second.SessionStartUTC = first.SessionStartUTC.Add(time.Minute)

	out, err := engine.Process(ctx, first)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, out.Status)

	// Same seqno, same session id, different start: not a duplicate.
	out, err = engine.Process(ctx, second)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, out.Status)

	require.Equal(t, 2, store.OpenSessionCount())
}

func TestProcessCapturesCallingNumberOnFirstContact(t *testing.T) {
	engine, store := testEngine(t)
	ctx := context.Background()

	// Out-of-order arrival: the intermediate record shows up first and has no
	// calling number, the start record follows with one.
	first := record(14, 1, v1.EventTypeIntermediate, 10)
	first.CallingNumber = ""

	_, err := engine.Process(ctx, first)
	require.NoError(t, err)
	_, err = engine.Process(ctx, record(14, 0, v1.EventTypeStart, 10))
	require.NoError(t, err)

	key := core.KeyOf(first)
	totals, err := store.GetRunningTotals(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "5551234567", totals.CallingNumber)
}
