package v1

import (
	"fmt"
	"time"
)

// Event types carried on the wire. A session begins with a start record,
// continues with intermediates and ideally finishes with an end record.
const (
	EventTypeStart        = "S"
	EventTypeIntermediate = "I"
	EventTypeEnd          = "E"
)

// MaxSeqno is the highest sequence number a detail record may carry.
// Sessions longer than this are modelled by producers as consecutive
// sub-sessions with fresh start timestamps.
const MaxSeqno = 255

// DetailRecord is one inbound fragment of a mediation session, the
// equivalent of a call detail record. Producers identify a session by
// (SessionID, SessionStartUTC); a subscriber can have many sessions over
// time, distinguished by start timestamp.
type DetailRecord struct {
	// SessionID identifies the session together with SessionStartUTC.
	SessionID int64 `json:"session_id" binding:"required"`

	// SessionStartUTC is when the session began (producer clock).
	SessionStartUTC time.Time `json:"session_start_utc" binding:"required"`

	// Seqno is the 0-based position of this record within its session.
	Seqno int `json:"seqno"`

	// CallingNumber identifies the device. Producers typically only set it
	// on the start record; the engine captures it on first contact.
	CallingNumber string `json:"calling_number,omitempty"`

	// Destination is the remote endpoint the session talks to.
	Destination string `json:"destination,omitempty"`

	// EventType is "S", "I" or "E".
	EventType string `json:"event_type" binding:"required"`

	// RecordStartUTC is when this fragment's usage started.
	RecordStartUTC time.Time `json:"record_start_utc" binding:"required"`

	// RecordUsage is the usage quantity (e.g. bytes) covered by this fragment.
	RecordUsage int64 `json:"record_usage"`
}

// Validate enforces the wire contract. A seqno outside [0, MaxSeqno] is a
// producer contract violation and must be refused before any state is touched.
func (r *DetailRecord) Validate() error {
	if r.SessionStartUTC.IsZero() {
		return fmt.Errorf("session_start_utc is required")
	}

	if r.Seqno < 0 || r.Seqno > MaxSeqno {
		return fmt.Errorf("seqno %d out of range [0, %d]", r.Seqno, MaxSeqno)
	}

	switch r.EventType {
	case EventTypeStart, EventTypeIntermediate, EventTypeEnd:
	default:
		return fmt.Errorf("event_type %q must be one of %q, %q, %q",
			r.EventType, EventTypeStart, EventTypeIntermediate, EventTypeEnd)
	}

	if r.RecordStartUTC.IsZero() {
		return fmt.Errorf("record_start_utc is required")
	}

	if r.RecordUsage < 0 {
		return fmt.Errorf("record_usage must be >= 0, got %d", r.RecordUsage)
	}

	return nil
}
