package datagen

import (
	"math/rand"
	"testing"
	"time"

	v1 "github.com/mediant-lab/mediant/internal/api/v1"
	"github.com/stretchr/testify/require"
)

var sessionNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestSessionEmitsStartIntermediatesEnd(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	sess := newSession(42, sessionNow, rnd)

	var recs []*v1.DetailRecord
	for !sess.Done() {
		recs = append(recs, sess.NextRecord(sessionNow, rnd))
	}

	require.GreaterOrEqual(t, len(recs), minSessionLength+1)

	require.Equal(t, v1.EventTypeStart, recs[0].EventType)
	require.NotEmpty(t, recs[0].CallingNumber)
	require.NotEmpty(t, recs[0].Destination)

	for i, rec := range recs[1 : len(recs)-1] {
		require.Equal(t, v1.EventTypeIntermediate, rec.EventType, "record %d", i+1)
		require.Empty(t, rec.CallingNumber)
	}

	require.Equal(t, v1.EventTypeEnd, recs[len(recs)-1].EventType)

	// Seqnos count up from zero with no gaps, all in wire range, and every
	// record carries the same session identity.
	for i, rec := range recs {
		require.Equal(t, i, rec.Seqno)
		require.LessOrEqual(t, rec.Seqno, v1.MaxSeqno)
		require.Equal(t, int64(42), rec.SessionID)
		require.Equal(t, sessionNow, rec.SessionStartUTC)
		require.NoError(t, rec.Validate())
	}
}

func TestSessionLengthsVary(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))

	lengths := make(map[int]bool)
	for i := 0; i < 50; i++ {
		sess := newSession(int64(i), sessionNow, rnd)
		lengths[sess.endSeqno] = true
		require.GreaterOrEqual(t, sess.endSeqno, minSessionLength)
		require.LessOrEqual(t, sess.endSeqno, v1.MaxSeqno)
	}
	require.Greater(t, len(lengths), 1)
}
