package collection

import (
	"encoding/binary"
	"math"

	"github.com/kartikbazzad/storedb/internal/bsonish"
)

// EncodeKey produces a byte-wise ordered encoding of key under pattern: for
// any two keys a, b generated from the same pattern,
// bytes.Compare(EncodeKey(a), EncodeKey(b)) has the same sign as
// bsonish.CompareKeys(pattern, a, b). This is the dictionary engine's
// concern in a real deployment (spec.md §6 treats it as opaque); the
// reference kv.Dictionary implementations need something concrete to sort
// bytes by, so collection keys encode themselves before reaching kv.
func EncodeKey(key bsonish.Key, pattern bsonish.KeyPattern) []byte {
	var buf []byte
	for i, part := range pattern {
		buf = append(buf, encodeComponent(key[i], part.Dir)...)
	}
	return buf
}

// EncodeIndexKey appends the encoded primary key as a suffix to a secondary
// index's logical key, so non-unique indexes can store one dictionary
// entry per (key, pk) pair without collisions.
func EncodeIndexKey(secondaryKey bsonish.Key, secondaryPattern bsonish.KeyPattern, pk bsonish.Key, pkPattern bsonish.KeyPattern) []byte {
	buf := EncodeKey(secondaryKey, secondaryPattern)
	buf = append(buf, 0x00)
	return append(buf, EncodeKey(pk, pkPattern)...)
}

// EncodeKeyPrefix encodes only the logical portion of a secondary index
// key, for prefix scans that enumerate every PK sharing that key.
func EncodeKeyPrefix(key bsonish.Key, pattern bsonish.KeyPattern) []byte {
	buf := EncodeKey(key, pattern)
	return append(buf, 0x00)
}

// EncodeUint64 is a plain 8-byte big-endian encoding of v, order-preserving
// for unsigned values. Natural-order PKs do not use it: they are encoded by
// EncodeKey as int64 (see DecodeNaturalPK).
func EncodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func DecodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// encodeComponent encodes one leaf value so that unsigned byte comparison
// matches bsonish.Compare's ordering for that leaf, then flips every bit if
// dir is descending. String/[]byte leaves are NUL-terminated, which keeps a
// multi-component key unambiguous for values that don't themselves contain
// a NUL byte — a reference-scope limitation, not attempted for the general
// case a real storage engine's key encoder would handle.
func encodeComponent(v any, dir int8) []byte {
	var out []byte
	switch t := v.(type) {
	case nil:
		out = []byte{0x01}
	case bsonish.ObjectID:
		out = append([]byte{0x07}, t[:]...)
	case bool:
		b := byte(0)
		if t {
			b = 1
		}
		out = []byte{0x08, b}
	case int64:
		out = append([]byte{0x02}, encodeOrderedInt64(t)...)
	case float64:
		out = append([]byte{0x02}, encodeOrderedFloat64(t)...)
	case string:
		out = append([]byte{0x03}, []byte(t)...)
		out = append(out, 0x00)
	case []byte:
		out = append([]byte{0x06}, t...)
		out = append(out, 0x00)
	default:
		out = []byte{0x05}
	}

	if dir < 0 {
		for i := range out {
			out[i] = ^out[i]
		}
	}
	return out
}

// encodeOrderedInt64 maps int64 to an unsigned 8-byte big-endian encoding
// that preserves signed numeric order: flip the sign bit.
func encodeOrderedInt64(v int64) []byte {
	u := uint64(v) ^ (uint64(1) << 63)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], u)
	return b[:]
}

// decodeOrderedInt64 is the inverse of encodeOrderedInt64, used to recover
// a natural-order PK from its encoded index-0 key for capped-collection
// trimming, which must walk index 0 in physical key order.
func decodeOrderedInt64(b []byte) int64 {
	u := binary.BigEndian.Uint64(b)
	u ^= uint64(1) << 63
	return int64(u)
}

// DecodeNaturalPK recovers the "$" counter value from an ascending
// (EncodeKey'd) natural-order index-0 key: one tag byte followed by the
// 8-byte ordered int64 encoding.
func DecodeNaturalPK(physKey []byte) int64 {
	return decodeOrderedInt64(physKey[1:9])
}

// encodeOrderedFloat64 maps float64 to an unsigned 8-byte big-endian
// encoding that preserves IEEE-754 ordering: for non-negative floats flip
// the sign bit, for negative floats invert every bit.
func encodeOrderedFloat64(v float64) []byte {
	bits := math.Float64bits(v)
	if v >= 0 {
		bits ^= uint64(1) << 63
	} else {
		bits = ^bits
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], bits)
	return b[:]
}
