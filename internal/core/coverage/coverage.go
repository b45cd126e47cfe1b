// Package coverage tracks which sequence numbers of a mediation session have
// been observed. It is a fixed-capacity bit set: one bit per possible seqno,
// serialized as a compact blob for storage in the dedup-check row.
package coverage

import (
	"fmt"
	"math/bits"
	"strings"
)

// Capacity is the number of representable sequence numbers per session.
const Capacity = 256

// BlobSize is the serialized width in bytes. Round-trips are exact.
const BlobSize = Capacity / 8

// Coverage is a set of observed sequence numbers in [0, Capacity).
// Bits are only ever set, never cleared, for the lifetime of a session.
type Coverage struct {
	bits [BlobSize]byte
}

// New returns an empty coverage set.
func New() *Coverage {
	return &Coverage{}
}

// FromBytes rebuilds a coverage set from a serialized blob. A nil or empty
// blob yields an empty set; any other length except BlobSize is an error.
func FromBytes(raw []byte) (*Coverage, error) {
	c := &Coverage{}
	if len(raw) == 0 {
		return c, nil
	}
	if len(raw) != BlobSize {
		return nil, fmt.Errorf("coverage blob must be %d bytes, got %d", BlobSize, len(raw))
	}
	copy(c.bits[:], raw)
	return c, nil
}

// Set marks seqno as observed. Out-of-range values are a no-op; callers are
// expected to validate range first.
func (c *Coverage) Set(seqno int) {
	if seqno < 0 || seqno >= Capacity {
		return
	}
	c.bits[seqno/8] |= 1 << (seqno % 8)
}

// IsSet reports whether seqno has been observed.
func (c *Coverage) IsSet(seqno int) bool {
	if seqno < 0 || seqno >= Capacity {
		return false
	}
	return c.bits[seqno/8]&(1<<(seqno%8)) != 0
}

// ContiguousFromZero reports whether all of 0..limit-1 are set: the
// "no gaps below the high-water mark" precondition for aggregation.
func (c *Coverage) ContiguousFromZero(limit int) bool {
	if limit <= 0 {
		return true
	}
	if limit > Capacity {
		return false
	}

	full := limit / 8
	for i := 0; i < full; i++ {
		if c.bits[i] != 0xFF {
			return false
		}
	}
	if rem := limit % 8; rem != 0 {
		mask := byte(1<<rem) - 1
		if c.bits[full]&mask != mask {
			return false
		}
	}
	return true
}

// CoversRange reports whether every seqno in [from, to] is set.
func (c *Coverage) CoversRange(from, to int) bool {
	if from < 0 || to >= Capacity || from > to {
		return false
	}
	for i := from; i <= to; i++ {
		if !c.IsSet(i) {
			return false
		}
	}
	return true
}

// Cardinality returns the number of observed sequence numbers.
func (c *Coverage) Cardinality() int {
	n := 0
	for _, b := range c.bits {
		n += bits.OnesCount8(b)
	}
	return n
}

// HighestContiguousSeqno returns the largest k such that the set is exactly
// {0, .., k} with no scattered extras, or -1 if the set is
// empty or not an exact prefix.
func (c *Coverage) HighestContiguousSeqno() int {
	n := c.Cardinality()
	if n == 0 {
		return -1
	}
	if c.ContiguousFromZero(n) {
		return n - 1
	}
	return -1
}

// Bytes serializes the set to a fixed-width blob for storage.
func (c *Coverage) Bytes() []byte {
	out := make([]byte, BlobSize)
	copy(out, c.bits[:])
	return out
}

// Clone returns an independent copy.
func (c *Coverage) Clone() *Coverage {
	out := &Coverage{}
	out.bits = c.bits
	return out
}

// String renders the set for diagnostics: the compact "0-k" form when the
// set is an exact prefix, otherwise one 'X' per observed slot and '_' per
// gap, up to the highest observed seqno.
func (c *Coverage) String() string {
	if k := c.HighestContiguousSeqno(); k >= 0 {
		return fmt.Sprintf("0-%d", k)
	}

	highest := -1
	for i := Capacity - 1; i >= 0; i-- {
		if c.IsSet(i) {
			highest = i
			break
		}
	}

	var sb strings.Builder
	sb.Grow(highest + 1)
	for i := 0; i <= highest; i++ {
		if c.IsSet(i) {
			sb.WriteByte('X')
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
