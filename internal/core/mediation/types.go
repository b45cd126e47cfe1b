// Package mediation holds the domain model of the mediation engine: session
// keys, the per-session dedup-check record, the running-totals projection,
// and the terminal output rows.
package mediation

import (
	"fmt"
	"time"

	v1 "github.com/mediant-lab/mediant/internal/api/v1"
	"github.com/mediant-lab/mediant/internal/core/coverage"
)

// Aggregation reasons recorded on an AggregatedSession row.
const (
	ReasonEnd   = "END"   // an end record arrived with a complete set
	ReasonQty   = "QTY"   // record count crossed the seqno-count threshold
	ReasonUsage = "USAGE" // unaggregated usage crossed the usage threshold
	ReasonAge   = "AGE"   // the staleness sweep finalized a complete session
)

// Rejection reasons recorded on a RejectedRecord row. All are terminal;
// the engine never retries a rejected record.
const (
	RejectLateSession = "LATESESSION" // session older than the lateness bound
	RejectLateRecord  = "LATERECORD"  // record older than the lateness bound
	RejectDup         = "DUP"         // sequence number already observed
	RejectLate        = "LATE"        // sweep cancelled an incomplete session
)

// RecordTypeRange marks a RejectedRecord that covers a seqno span rather
// than a single record (sweep cancellations).
const RecordTypeRange = "RANGE"

// SessionKey identifies one session instance. A subscriber may have many
// sessions over time, distinguished by start timestamp.
type SessionKey struct {
	SessionID       int64
	SessionStartUTC time.Time
}

// KeyOf extracts the session key from a wire record, normalized to UTC.
func KeyOf(r *v1.DetailRecord) SessionKey {
	return SessionKey{
		SessionID:       r.SessionID,
		SessionStartUTC: r.SessionStartUTC.UTC(),
	}
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%d@%s", k.SessionID, k.SessionStartUTC.Format(time.RFC3339Nano))
}

// DedupRecord is the compact per-session duplicate/coverage tracker. One row
// per live session; created on first accepted record, mutated on every
// subsequent one, deleted when the session is finalized.
type DedupRecord struct {
	Key               SessionKey
	CallingNumber     string
	Coverage          *coverage.Coverage
	UnaggregatedUsage int64
	LastUpdated       time.Time
}

// RunningTotals is the live aggregate projection over a session's accepted,
// not-yet-finalized detail records. Maintained by the store on every append;
// deleted atomically when the session is finalized.
type RunningTotals struct {
	Key               SessionKey
	MinSeqno          int
	MaxSeqno          int
	MinRecordStartUTC time.Time
	MaxRecordStartUTC time.Time
	CallingNumber     string
	Destination       string
	RecordUsage       int64
	RecordCount       int64
}

// AggregatedSession is the terminal summary row for a normally finalized
// session. Append-only; normal operation produces exactly one per session.
type AggregatedSession struct {
	Reason          string
	Key             SessionKey
	MinSeqno        int
	MaxSeqno        int
	CallingNumber   string
	Destination     string
	StartAggTimeUTC time.Time
	EndAggTimeUTC   time.Time
	RecordUsage     int64
}

// RejectedRecord is the audit-trail row for records and sessions the engine
// refused to fold into an aggregate. For RejectLate the row covers a span:
// Seqno..EndSeqno and RecordStartUTC..EndRecordStartUTC.
type RejectedRecord struct {
	Reason            string
	Key               SessionKey
	Seqno             int
	EndSeqno          int
	CallingNumber     string
	Destination       string
	RecordType        string
	RecordStartUTC    time.Time
	EndRecordStartUTC time.Time
	RecordUsage       int64
}
