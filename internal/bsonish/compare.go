package bsonish

import (
	"bytes"
	"time"
)

// typeOrder fixes the BSON-style canonical type ordering used when two
// leaves of different types are compared: MinKey < nil < numbers < string <
// Doc < Array < []byte < ObjectID < bool < time.Time < any other leaf type
// (e.g. Regex) < MaxKey.
func typeOrder(v any) int {
	switch v.(type) {
	case minKeyType:
		return 0
	case nil:
		return 1
	case int64, float64:
		return 2
	case string:
		return 3
	case Doc:
		return 4
	case Array:
		return 5
	case []byte:
		return 6
	case ObjectID:
		return 7
	case bool:
		return 8
	case time.Time:
		return 9
	case maxKeyType:
		return 11
	default:
		return 10
	}
}

// Compare returns -1, 0, or 1 comparing two BSON-like leaves, establishing
// the total order index keys rely on (spec.md §3 IndexDetails, §4.10 GTID
// total order uses its own numeric comparator, this one is for document
// field values).
func Compare(a, b any) int {
	oa, ob := typeOrder(a), typeOrder(b)
	if oa != ob {
		if oa < ob {
			return -1
		}
		return 1
	}

	switch av := a.(type) {
	case int64:
		if bf, ok := b.(float64); ok {
			return Compare(float64(av), bf)
		}
		bv := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case float64:
		if bi, ok := b.(int64); ok {
			return Compare(av, float64(bi))
		}
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv := b.(string)
		return compareStrings(av, bv)
	case []byte:
		return bytes.Compare(av, b.([]byte))
	case ObjectID:
		return av.Compare(b.(ObjectID))
	case bool:
		bv := b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case time.Time:
		bv := b.(time.Time)
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		default:
			return 0
		}
	case Array:
		return compareArrays(av, b.(Array))
	case Doc:
		return compareDocs(av, b.(Doc))
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareArrays(a, b Array) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareDocs(a, b Doc) int {
	n := a.Len()
	if b.Len() < n {
		n = b.Len()
	}
	for i := 0; i < n; i++ {
		ea, eb := a.Elems()[i], b.Elems()[i]
		if ea.Key != eb.Key {
			return compareStrings(ea.Key, eb.Key)
		}
		if c := Compare(ea.Value, eb.Value); c != 0 {
			return c
		}
	}
	switch {
	case a.Len() < b.Len():
		return -1
	case a.Len() > b.Len():
		return 1
	default:
		return 0
	}
}

// CompareWithDirection applies Compare and flips the sign for a descending
// (-1) sort direction, matching key-pattern direction semantics.
func CompareWithDirection(a, b any, dir int8) int {
	c := Compare(a, b)
	if dir < 0 {
		return -c
	}
	return c
}
