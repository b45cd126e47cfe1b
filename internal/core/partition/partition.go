package partition

import (
	"encoding/binary"
	"hash/fnv"
)

// LockFor returns the advisory lock ID for a session key's components.
// Stable and deterministic: the same (sessionID, sessionStartUnixMs) always
// maps to the same lock, so two units of work on the same session serialize
// while work on different sessions proceeds in parallel.
// Uses FNV-64a (stdlib, fast, well-distributed).
func LockFor(sessionID, sessionStartUnixMs int64) int64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(sessionID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(sessionStartUnixMs))

	h := fnv.New64a()
	h.Write(buf[:])
	return int64(h.Sum64())
}
