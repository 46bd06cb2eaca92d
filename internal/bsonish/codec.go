package bsonish

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/kartikbazzad/storedb/internal/errors"
)

// Tag bytes for the on-disk leaf encoding. The BSON-like model is an
// out-of-scope collaborator, so this codec is reference-only: it exists so
// the namespace catalog has something concrete to persist "options" and key
// patterns through (spec.md §3 "options ... participates in on-disk
// serialization"). Little-endian throughout, matching the rest of the
// catalog's binary format; only GTID encoding is mandated big-endian.
const (
	tagNil byte = iota
	tagBool
	tagInt64
	tagFloat64
	tagString
	tagBytes
	tagTime
	tagDoc
	tagArray
	tagObjectID
	tagMinKey
	tagMaxKey
	tagRegex
)

// Encode serializes v (any leaf type Doc/Array can hold) to a self-describing
// byte slice.
func Encode(v any) []byte {
	var buf []byte
	return appendValue(buf, v)
}

func appendValue(buf []byte, v any) []byte {
	switch t := v.(type) {
	case nil:
		return append(buf, tagNil)
	case bool:
		b := byte(0)
		if t {
			b = 1
		}
		return append(buf, tagBool, b)
	case int64:
		buf = append(buf, tagInt64)
		return appendUint64(buf, uint64(t))
	case float64:
		buf = append(buf, tagFloat64)
		return appendUint64(buf, math.Float64bits(t))
	case string:
		buf = append(buf, tagString)
		return appendLenPrefixed(buf, []byte(t))
	case []byte:
		buf = append(buf, tagBytes)
		return appendLenPrefixed(buf, t)
	case time.Time:
		buf = append(buf, tagTime)
		return appendUint64(buf, uint64(t.UnixNano()))
	case ObjectID:
		buf = append(buf, tagObjectID)
		return append(buf, t[:]...)
	case minKeyType:
		return append(buf, tagMinKey)
	case maxKeyType:
		return append(buf, tagMaxKey)
	case Regex:
		buf = append(buf, tagRegex)
		buf = appendLenPrefixed(buf, []byte(t.Pattern))
		return appendLenPrefixed(buf, []byte(t.Options))
	case Array:
		buf = append(buf, tagArray)
		buf = appendUint32(buf, uint32(len(t)))
		for _, elem := range t {
			buf = appendValue(buf, elem)
		}
		return buf
	case Doc:
		buf = append(buf, tagDoc)
		buf = appendUint32(buf, uint32(t.Len()))
		for _, e := range t.Elems() {
			buf = appendLenPrefixed(buf, []byte(e.Key))
			buf = appendValue(buf, e.Value)
		}
		return buf
	default:
		panic(fmt.Sprintf("bsonish: Encode: unsupported leaf type %T", v))
	}
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendLenPrefixed(buf, data []byte) []byte {
	buf = appendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

// Decode deserializes a value previously produced by Encode, returning the
// number of bytes consumed.
func Decode(b []byte) (any, int, error) {
	if len(b) == 0 {
		return nil, 0, errors.ErrStorageError
	}

	tag := b[0]
	rest := b[1:]

	switch tag {
	case tagNil:
		return nil, 1, nil
	case tagBool:
		if len(rest) < 1 {
			return nil, 0, errors.ErrStorageError
		}
		return rest[0] != 0, 2, nil
	case tagInt64:
		v, n, err := readUint64(rest)
		if err != nil {
			return nil, 0, err
		}
		return int64(v), 1 + n, nil
	case tagFloat64:
		v, n, err := readUint64(rest)
		if err != nil {
			return nil, 0, err
		}
		return math.Float64frombits(v), 1 + n, nil
	case tagString:
		data, n, err := readLenPrefixed(rest)
		if err != nil {
			return nil, 0, err
		}
		return string(data), 1 + n, nil
	case tagBytes:
		data, n, err := readLenPrefixed(rest)
		if err != nil {
			return nil, 0, err
		}
		return data, 1 + n, nil
	case tagTime:
		v, n, err := readUint64(rest)
		if err != nil {
			return nil, 0, err
		}
		return time.Unix(0, int64(v)).UTC(), 1 + n, nil
	case tagObjectID:
		if len(rest) < 12 {
			return nil, 0, errors.ErrStorageError
		}
		var id ObjectID
		copy(id[:], rest[:12])
		return id, 13, nil
	case tagMinKey:
		return MinKey, 1, nil
	case tagMaxKey:
		return MaxKey, 1, nil
	case tagRegex:
		pattern, n1, err := readLenPrefixed(rest)
		if err != nil {
			return nil, 0, err
		}
		options, n2, err := readLenPrefixed(rest[n1:])
		if err != nil {
			return nil, 0, err
		}
		return Regex{Pattern: string(pattern), Options: string(options)}, 1 + n1 + n2, nil
	case tagArray:
		count, n, err := readUint32(rest)
		if err != nil {
			return nil, 0, err
		}
		offset := n
		out := make(Array, 0, count)
		for i := uint32(0); i < count; i++ {
			v, consumed, err := Decode(rest[offset:])
			if err != nil {
				return nil, 0, err
			}
			out = append(out, v)
			offset += consumed
		}
		return out, 1 + offset, nil
	case tagDoc:
		count, n, err := readUint32(rest)
		if err != nil {
			return nil, 0, err
		}
		offset := n
		elems := make([]Elem, 0, count)
		for i := uint32(0); i < count; i++ {
			key, consumedKey, err := readLenPrefixed(rest[offset:])
			if err != nil {
				return nil, 0, err
			}
			offset += consumedKey
			v, consumedVal, err := Decode(rest[offset:])
			if err != nil {
				return nil, 0, err
			}
			offset += consumedVal
			elems = append(elems, Elem{Key: string(key), Value: v})
		}
		return NewDoc(elems...), 1 + offset, nil
	default:
		return nil, 0, errors.ErrStorageError
	}
}

func readUint64(b []byte) (uint64, int, error) {
	if len(b) < 8 {
		return 0, 0, errors.ErrStorageError
	}
	return binary.LittleEndian.Uint64(b[:8]), 8, nil
}

func readUint32(b []byte) (uint32, int, error) {
	if len(b) < 4 {
		return 0, 0, errors.ErrStorageError
	}
	return binary.LittleEndian.Uint32(b[:4]), 4, nil
}

func readLenPrefixed(b []byte) ([]byte, int, error) {
	length, n, err := readUint32(b)
	if err != nil {
		return nil, 0, err
	}
	if len(b) < n+int(length) {
		return nil, 0, errors.ErrStorageError
	}
	return b[n : n+int(length)], n + int(length), nil
}
