package datagen

import (
	"math/rand"
	"time"

	v1 "github.com/mediant-lab/mediant/internal/api/v1"
)

// Session is one simulated subscriber session. It emits a start record at
// seqno 0, intermediates after that, and an end record at a length chosen at
// creation time, after which Done reports true and the generator opens a
// fresh session for the user.
type Session struct {
	sessionID int64
	startUTC  time.Time

	callingNumber string
	destination   string

	nextSeqno int
	endSeqno  int
	done      bool
}

// minSessionLength keeps every session at least start + end.
const minSessionLength = 2

func newSession(sessionID int64, now time.Time, rnd *rand.Rand) *Session {
	length := minSessionLength + rnd.Intn(v1.MaxSeqno-minSessionLength+1)
	return &Session{
		sessionID:     sessionID,
		startUTC:      now.UTC(),
		callingNumber: randomPhoneNumber(rnd),
		destination:   randomDestination(rnd),
		nextSeqno:     0,
		endSeqno:      length,
	}
}

func (s *Session) Done() bool { return s.done }

// NextRecord emits the session's next record stamped with the given time.
// Calling number and destination are only carried on the start record, the
// way real producers behave.
func (s *Session) NextRecord(now time.Time, rnd *rand.Rand) *v1.DetailRecord {
	rec := &v1.DetailRecord{
		SessionID:       s.sessionID,
		SessionStartUTC: s.startUTC,
		Seqno:           s.nextSeqno,
		EventType:       v1.EventTypeIntermediate,
		RecordStartUTC:  now.UTC(),
		RecordUsage:     int64(rnd.Intn(10_000)),
	}

	switch s.nextSeqno {
	case 0:
		rec.EventType = v1.EventTypeStart
		rec.CallingNumber = s.callingNumber
		rec.Destination = s.destination
	case s.endSeqno:
		rec.EventType = v1.EventTypeEnd
		s.done = true
	}

	s.nextSeqno++
	return rec
}

func randomPhoneNumber(rnd *rand.Rand) string {
	digits := make([]byte, 10)
	digits[0] = byte('2' + rnd.Intn(8))
	for i := 1; i < len(digits); i++ {
		digits[i] = byte('0' + rnd.Intn(10))
	}
	return string(digits)
}

var destinations = []string{
	"api.example.net",
	"cdn.example.net",
	"media.example.org",
	"voice.example.com",
	"stream.example.io",
}

func randomDestination(rnd *rand.Rand) string {
	return destinations[rnd.Intn(len(destinations))]
}
