// Package gtid implements the global transaction identifier used by the
// replication pipeline (spec.md §3, §4.10): a totally ordered 128-bit pair
// assigned to every write on a primary and tracked through in-flight and
// applied watermarks on both primaries and secondaries.
package gtid

import "encoding/binary"

// GTID is a pair (primarySeqNo, GTSeqNo). Total order is lexicographic on
// the pair: primarySeqNo dominates, GTSeqNo breaks ties within a primary
// term. Zero is a valid sentinel, not a special case.
type GTID struct {
	PrimarySeqNo uint64
	GTSeqNo      uint64
}

// Compare returns -1, 0, or 1 comparing g to other under the total order.
func (g GTID) Compare(other GTID) int {
	switch {
	case g.PrimarySeqNo < other.PrimarySeqNo:
		return -1
	case g.PrimarySeqNo > other.PrimarySeqNo:
		return 1
	case g.GTSeqNo < other.GTSeqNo:
		return -1
	case g.GTSeqNo > other.GTSeqNo:
		return 1
	default:
		return 0
	}
}

func (g GTID) Less(other GTID) bool    { return g.Compare(other) < 0 }
func (g GTID) LessEqual(other GTID) bool { return g.Compare(other) <= 0 }
func (g GTID) Equal(other GTID) bool   { return g.Compare(other) == 0 }

// inc increments GTSeqNo, staying within the same primary term.
func (g GTID) inc() GTID {
	return GTID{PrimarySeqNo: g.PrimarySeqNo, GTSeqNo: g.GTSeqNo + 1}
}

// incPrimary increments primarySeqNo and resets GTSeqNo to 0, marking the
// start of a new primary term.
func (g GTID) incPrimary() GTID {
	return GTID{PrimarySeqNo: g.PrimarySeqNo + 1, GTSeqNo: 0}
}

// Encode writes g as 16 bytes, both halves big-endian, so byte-wise
// lexicographic order on encodings equals numeric order on GTIDs (spec.md
// §4.10, §6 "Oplog PK encoding").
func (g GTID) Encode() [16]byte {
	var out [16]byte
	binary.BigEndian.PutUint64(out[0:8], g.PrimarySeqNo)
	binary.BigEndian.PutUint64(out[8:16], g.GTSeqNo)
	return out
}

// Decode is the inverse of Encode.
func Decode(b [16]byte) GTID {
	return GTID{
		PrimarySeqNo: binary.BigEndian.Uint64(b[0:8]),
		GTSeqNo:      binary.BigEndian.Uint64(b[8:16]),
	}
}

// EncodeSlice is Encode returning a []byte, for callers (oplog PK
// generation) that want a dictionary key directly.
func (g GTID) EncodeSlice() []byte {
	b := g.Encode()
	return b[:]
}

// DecodeSlice is Decode accepting a []byte of length 16.
func DecodeSlice(b []byte) GTID {
	var arr [16]byte
	copy(arr[:], b)
	return Decode(arr)
}
